package backend

import "strings"

// LanguageCommand is one row of the dispatch table from spec.md §6: the
// program and argv used to run a snippet of the given language inside a
// guest environment that already has the language runtime installed.
type LanguageCommand struct {
	Program string
	Args    []string
}

// dispatchTable is the sole source of truth for both argv construction
// and SupportedLanguages. Every backend's supports_language/
// supported_languages is derived from this map, per spec.md §9.
var dispatchTable = map[string]func(code string) LanguageCommand{
	"python": pythonCommand,
	"python3": pythonCommand,
	"javascript": nodeCommand,
	"js":         nodeCommand,
	"node":       nodeCommand,
	"bash": shCommand,
	"sh":   shCommand,
	"rust": rustCommand,
	"go":   goCommand,
}

func pythonCommand(code string) LanguageCommand {
	return LanguageCommand{Program: "python3", Args: []string{"-c", code}}
}

func nodeCommand(code string) LanguageCommand {
	return LanguageCommand{Program: "node", Args: []string{"-e", code}}
}

func shCommand(code string) LanguageCommand {
	return LanguageCommand{Program: "sh", Args: []string{"-c", code}}
}

func rustCommand(code string) LanguageCommand {
	escaped := EscapeSingleQuotes(code)
	script := "echo '" + escaped + "' > /tmp/main.rs && cd /tmp && rustc main.rs && ./main"
	return LanguageCommand{Program: "sh", Args: []string{"-c", script}}
}

func goCommand(code string) LanguageCommand {
	escaped := EscapeSingleQuotes(code)
	script := "echo '" + escaped + "' > /tmp/main.go && cd /tmp && go run main.go"
	return LanguageCommand{Program: "sh", Args: []string{"-c", script}}
}

// EscapeSingleQuotes applies the '"'"' idiom described in spec.md §6/§9:
// each single quote in code becomes '"'"' so the string survives being
// wrapped in a single-quoted shell argument.
func EscapeSingleQuotes(code string) string {
	return strings.ReplaceAll(code, "'", `'"'"'`)
}

// SupportedLanguages returns the shared dispatch table's language set,
// matching spec.md §4.B's "supported language set (shared across
// backends)".
func SupportedLanguages() []string {
	langs := make([]string, 0, len(dispatchTable))
	for l := range dispatchTable {
		langs = append(langs, l)
	}
	return langs
}

// IsSupportedLanguage reports whether lang (already lower-cased) appears
// in the shared dispatch table.
func IsSupportedLanguage(lang string) bool {
	_, ok := dispatchTable[lang]
	return ok
}

// CommandFor returns the argv to run code in lang inside a guest that has
// the runtime installed, or false if lang is not in the dispatch table.
// Fails closed on an embedded NUL byte, per spec.md §9.
func CommandFor(lang, code string) (LanguageCommand, bool) {
	build, ok := dispatchTable[lang]
	if !ok {
		return LanguageCommand{}, false
	}
	if strings.ContainsRune(code, 0) {
		return LanguageCommand{}, false
	}
	return build(code), true
}

// SourceFileName returns the canonical on-disk name for materializing
// code in lang, per spec.md §4.C step 1.
func SourceFileName(lang string) string {
	switch lang {
	case "python", "python3":
		return "main.py"
	case "rust":
		return "main.rs"
	case "javascript", "js", "node":
		return "main.js"
	case "go":
		return "main.go"
	default:
		return "code"
	}
}
