package fishaudio

// ModelState is the training state of a cloned voice model.
type ModelState string

const (
	ModelCreated  ModelState = "created"
	ModelTraining ModelState = "training"
	ModelTrained  ModelState = "trained"
	ModelFailed   ModelState = "failed"
)

// Valid reports whether s is a known state.
func (s ModelState) Valid() bool {
	switch s {
	case ModelCreated, ModelTraining, ModelTrained, ModelFailed:
		return true
	}
	return false
}

// Model is a vendor-hosted cloned voice.
type Model struct {
	ID          string     `json:"_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       ModelState `json:"state"`
}

// Ready reports whether speech can be generated with the model.
func (m *Model) Ready() bool {
	return m.State == ModelTrained
}

// ModelList is one page of models.
type ModelList struct {
	Total int     `json:"total"`
	Items []Model `json:"items"`
}

// CreateModelRequest submits a voice sample for cloning.
type CreateModelRequest struct {
	Title       string
	Description string
	Sample      []byte
	FileName    string
	// ContentType of the sample, defaults to audio/wav.
	ContentType string
}

// ListModelsOptions filters ListModels. Zero values are omitted from the query.
type ListModelsOptions struct {
	Self       bool
	PageSize   int
	PageNumber int
}

// Format is a speech output encoding.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatOpus Format = "opus"
	FormatPCM  Format = "pcm"
)

// MIMEType returns the content type for audio in this format.
func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatOpus:
		return "audio/ogg"
	case FormatPCM:
		return "audio/pcm"
	default:
		return "audio/mp3"
	}
}

type ttsRequest struct {
	Text        string  `json:"text"`
	ReferenceID string  `json:"reference_id"`
	Format      Format  `json:"format"`
	Normalize   bool    `json:"normalize"`
	Latency     string  `json:"latency"`
	Prosody     prosody `json:"prosody"`
}

type prosody struct {
	Speed  float64 `json:"speed"`
	Volume float64 `json:"volume"`
}
