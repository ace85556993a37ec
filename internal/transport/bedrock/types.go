package bedrock

type titanTextRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  *bool  `json:"normalize,omitempty"`
}

type titanImageRequest struct {
	InputText       string                `json:"inputText,omitempty"`
	InputImage      string                `json:"inputImage,omitempty"`
	EmbeddingConfig *titanEmbeddingConfig `json:"embeddingConfig,omitempty"`
}

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

type novaRequest struct {
	TaskType              string     `json:"taskType"`
	SingleEmbeddingParams novaParams `json:"singleEmbeddingParams"`
}

type novaParams struct {
	EmbeddingPurpose   string     `json:"embeddingPurpose"`
	EmbeddingDimension int        `json:"embeddingDimension,omitempty"`
	Text               *novaText  `json:"text,omitempty"`
	Image              *novaImage `json:"image,omitempty"`
}

type novaText struct {
	TruncationMode string `json:"truncationMode"`
	Value          string `json:"value"`
}

type novaImage struct {
	Format string     `json:"format"`
	Source novaSource `json:"source"`
}

type novaSource struct {
	Bytes string `json:"bytes"`
}

type novaResponse struct {
	Embeddings []struct {
		EmbeddingType string    `json:"embeddingType"`
		Embedding     []float32 `json:"embedding"`
	} `json:"embeddings"`
}
