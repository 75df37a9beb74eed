package v1

// ChatRequest asks the update service to apply a conversational change
// across a project tree.
type ChatRequest struct {
	Prompt  string            `json:"prompt" binding:"required"`
	Context map[string]string `json:"context,omitempty"`
}

// InlineRequest asks for a targeted edit of one file, optionally scoped
// to a selected region.
type InlineRequest struct {
	FilePath  string `json:"file_path" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
	Selection string `json:"selection,omitempty"`
}
