package extraction

import "strings"

// Valence is the polarity of a sentiment reading.
type Valence string

const (
	ValencePositive Valence = "pos"
	ValenceNegative Valence = "neg"
	ValenceNeutral  Valence = "neu"
)

// Sentiment is the lexicon-based sentiment of a text.
type Sentiment struct {
	Valence     Valence
	Intensity   float64
	EmotionTags []string
}

var positiveWords = lexicon(
	"good", "great", "excellent", "amazing", "awesome", "fantastic", "wonderful",
	"love", "loved", "like", "liked", "enjoy", "enjoyed", "happy", "glad",
	"pleased", "delighted", "excited", "thrilled", "grateful", "thankful",
	"success", "successful", "win", "won", "winning", "achieve", "achieved",
	"accomplish", "accomplished", "perfect", "brilliant", "beautiful", "nice",
	"best", "better", "improve", "improved", "improving", "progress", "smooth",
	"fast", "faster", "easy", "easier", "simple", "clean", "clear", "elegant",
	"reliable", "stable", "solid", "robust", "helpful", "useful", "valuable",
	"effective", "efficient", "productive", "confident", "optimistic", "proud",
	"satisfying", "satisfied", "fun", "interesting", "impressive", "strong",
	"works", "worked", "working", "fixed", "resolved", "solved", "shipped",
	"approved", "passed", "complete", "completed", "done", "ready", "agree",
	"agreed", "recommend", "recommended", "favorite", "superb", "outstanding",
	"calm", "relaxed", "comfortable", "safe", "secure", "healthy", "fresh",
	// Vietnamese
	"tốt", "hay", "tuyệt", "vui", "thích", "yêu", "đẹp", "giỏi", "xuất sắc",
	"hài lòng", "hạnh phúc", "thành công", "dễ", "nhanh", "ổn", "ngon",
	"tuyệt vời", "đồng ý", "hoàn thành", "xong", "mạnh", "an toàn",
)

var negativeWords = lexicon(
	"bad", "terrible", "awful", "horrible", "worst", "worse", "hate", "hated",
	"dislike", "angry", "mad", "furious", "annoyed", "annoying", "frustrated",
	"frustrating", "sad", "unhappy", "depressed", "disappointed",
	"disappointing", "fail", "failed", "failing", "failure", "broke",
	"broken", "break", "bug", "buggy", "crash", "crashed", "crashing",
	"error", "errors", "problem", "problems", "issue", "issues", "slow",
	"slower", "hard", "harder", "difficult", "complex", "complicated",
	"confusing", "confused", "unclear", "messy", "dirty", "ugly", "wrong",
	"incorrect", "invalid", "unreliable", "unstable", "fragile", "flaky",
	"useless", "worthless", "waste", "wasted", "lost", "losing", "stuck",
	"blocked", "delayed", "late", "missed", "missing", "rejected", "denied",
	"refused", "worried", "worry", "anxious", "afraid", "scared", "fear",
	"stress", "stressed", "stressful", "tired", "exhausted", "sick", "pain",
	"painful", "hurt", "damage", "damaged", "danger", "dangerous", "risky",
	"regret", "sorry", "unfortunately", "impossible", "never",
	// Vietnamese
	"xấu", "tệ", "dở", "buồn", "ghét", "giận", "khó", "chậm", "hỏng", "lỗi",
	"sai", "thất bại", "mệt", "lo", "sợ", "đau", "kém", "phiền", "bực",
	"thất vọng", "nguy hiểm", "mất", "kẹt", "trễ",
)

var intensifiers = lexicon(
	"very", "really", "extremely", "incredibly", "absolutely", "totally",
	"completely", "so", "super", "highly", "deeply", "utterly",
	"rất", "quá", "cực", "lắm", "vô cùng", "hết sức",
)

var negators = lexicon(
	"not", "no", "never", "none", "neither", "nor", "hardly", "barely",
	"isnt", "arent", "wasnt", "werent", "dont", "doesnt", "didnt", "cant",
	"cannot", "couldnt", "wont", "wouldnt", "shouldnt",
	"không", "chẳng", "chưa", "đừng",
)

// emotionLexicon maps trigger words to coarse emotion tags.
var emotionLexicon = map[string]string{
	"happy": "joy", "glad": "joy", "delighted": "joy", "excited": "joy",
	"thrilled": "joy", "fun": "joy", "vui": "joy",
	"angry": "anger", "mad": "anger", "furious": "anger", "annoyed": "anger",
	"frustrated": "anger", "giận": "anger", "bực": "anger",
	"sad": "sadness", "unhappy": "sadness", "depressed": "sadness",
	"disappointed": "sadness", "buồn": "sadness", "regret": "sadness",
	"worried": "fear", "anxious": "fear", "afraid": "fear", "scared": "fear",
	"fear": "fear", "stress": "fear", "stressed": "fear", "lo": "fear", "sợ": "fear",
	"love": "love", "loved": "love", "yêu": "love",
	"proud": "pride", "confident": "pride",
	"tired": "fatigue", "exhausted": "fatigue", "mệt": "fatigue",
}

// ExtractSentiment computes a lexicon-based sentiment with negation and
// intensifier handling over a two-token window.
func ExtractSentiment(tok Tokenizer, text string) Sentiment {
	tokens := tok.Tokenize(text)
	if len(tokens) == 0 {
		return Sentiment{Valence: ValenceNeutral}
	}

	var score float64
	var hits int
	tagSet := make(map[string]struct{})

	for i, word := range tokens {
		polarity := 0.0
		if _, ok := positiveWords[word]; ok {
			polarity = 1.0
		} else if _, ok := negativeWords[word]; ok {
			polarity = -1.0
		}
		if polarity == 0 {
			continue
		}
		hits++

		weight := 1.0
		for back := 1; back <= 2 && i-back >= 0; back++ {
			prev := tokens[i-back]
			if _, ok := intensifiers[prev]; ok {
				weight *= 1.5
			}
			if _, ok := negators[strings.ReplaceAll(prev, "'", "")]; ok {
				polarity = -polarity
			}
		}
		score += polarity * weight

		if tag, ok := emotionLexicon[word]; ok {
			tagSet[tag] = struct{}{}
		}
	}

	if hits == 0 {
		return Sentiment{Valence: ValenceNeutral}
	}

	intensity := score / float64(hits)
	if intensity < 0 {
		intensity = -intensity
	}
	if intensity > 1 {
		intensity = 1
	}

	valence := ValenceNeutral
	switch {
	case score > 0.2:
		valence = ValencePositive
	case score < -0.2:
		valence = ValenceNegative
	}

	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}

	return Sentiment{Valence: valence, Intensity: intensity, EmotionTags: tags}
}

func lexicon(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
