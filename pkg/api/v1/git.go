package v1

// CloneRequest overrides the branch for a project clone; empty falls back
// to the project's configured branch.
type CloneRequest struct {
	Branch string `json:"branch,omitempty"`
}

// PutCredentialRequest stores a provider token for the calling user.
type PutCredentialRequest struct {
	Username string `json:"username,omitempty"`
	Token    string `json:"token" binding:"required"`
}

// CreateRepoRequest creates a repository on a hosted git provider.
type CreateRepoRequest struct {
	Provider string `json:"provider" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Private  bool   `json:"private,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}
