package dto

type ReceiptTextRequest struct {
	Text string `json:"text"`
}

type ArtifactResponse struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	CreatedAt   string `json:"createdAt"`
}
