package domain

import "time"

// Content types a builder can be materialized into.
const (
	ContentTypeTSV = "text/tab-separated-values"
)

var extToContentType = map[string]string{
	"tsv": ContentTypeTSV,
}

var contentTypeToExt = map[string]string{
	ContentTypeTSV: "tsv",
}

// ContentTypeForExt maps a file extension to its selection content type.
func ContentTypeForExt(ext string) (string, bool) {
	ct, ok := extToContentType[ext]
	return ct, ok
}

// ExtForContentType maps a content type back to its file extension.
func ExtForContentType(contentType string) string {
	return contentTypeToExt[contentType]
}

// Selection is a materialized article list produced from a builder version.
type Selection struct {
	ID           string
	BuilderID    string
	ContentType  string
	Version      int
	ObjectKey    string
	ArticleCount int
	Errors       []string
	CreatedAt    time.Time
}

// Usable reports whether the selection produced a downloadable file.
func (s Selection) Usable() bool {
	return s.ObjectKey != "" && len(s.Errors) == 0
}

// ArticleCountView answers the pre-flight article count query.
type ArticleCountView struct {
	SelectionID     string `json:"id"`
	ArticleCount    int    `json:"article_count"`
	MaxArticleCount int    `json:"max_article_count"`
}
