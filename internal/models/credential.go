package models

// ModelCredential identifies one vendor capability (chat, image or vision).
// The secret is only used to derive request signatures.
type ModelCredential struct {
	AppID     string `json:"app_id" yaml:"app_id"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Domain    string `json:"domain" yaml:"domain"`
}

// Complete reports whether all signing fields are present.
func (c ModelCredential) Complete() bool {
	return c.AppID != "" && c.APISecret != "" && c.APIKey != ""
}
