package backend

// Base is embedded by every concrete backend to supply the
// language-table-derived methods (SupportsLanguage, SupportedLanguages)
// and config accessor, so each backend only has to implement
// ExecuteCode, HealthCheck, Cleanup, and BackendType.
type Base struct {
	Type   string
	Config Config
}

func (b Base) BackendType() string { return b.Type }

func (b Base) SupportsLanguage(lang string) bool { return IsSupportedLanguage(lang) }

func (b Base) SupportedLanguages() []string { return SupportedLanguages() }

func (b Base) GetConfig() Config { return b.Config }
