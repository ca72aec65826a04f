package extraction

// Stop words filtered from keyword extraction, English and Vietnamese.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// English
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can", "need", "dare",
		"ought", "used", "to", "of", "in", "for", "on", "with", "at", "by",
		"from", "as", "into", "through", "during", "before", "after", "above",
		"below", "between", "under", "again", "further", "then", "once",
		"here", "there", "when", "where", "why", "how", "all", "each", "few",
		"more", "most", "other", "some", "such", "no", "nor", "not", "only",
		"own", "same", "so", "than", "too", "very", "just", "and", "but",
		"if", "or", "because", "until", "while", "this", "that", "these",
		"those", "i", "me", "my", "myself", "we", "our", "ours", "ourselves",
		"you", "your", "yours", "yourself", "he", "him", "his", "himself",
		"she", "her", "hers", "herself", "it", "its", "itself", "they",
		"them", "their", "theirs", "what", "which", "who", "whom",
		// Vietnamese
		"và", "của", "là", "có", "được", "cho", "với", "này", "trong", "để",
		"các", "những", "một", "đã", "tôi", "bạn", "anh", "chị", "em", "ở",
		"tại", "khi", "thì", "mà", "nếu", "vì", "cũng", "như", "từ", "đến",
		"lại", "ra", "vào", "lên", "xuống", "rồi", "sẽ", "đang", "vẫn",
		"còn", "chỉ", "rất", "quá", "làm", "gì", "sao", "nào", "đâu", "ai",
		"bao", "nhiêu",
	} {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether the token is a stop word in either language.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// ExtractKeywords returns the distinct content words of the text, in first
// occurrence order, with stop words and short tokens removed.
func ExtractKeywords(tok Tokenizer, text string, minLength int) []string {
	if minLength <= 0 {
		minLength = 2
	}
	seen := make(map[string]struct{})
	var out []string
	for _, word := range tok.Tokenize(text) {
		if len([]rune(word)) < minLength {
			continue
		}
		if IsStopWord(word) {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}
