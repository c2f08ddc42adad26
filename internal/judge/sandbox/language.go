package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Language identifies a supported submission language.
type Language string

const (
	LanguageC          Language = "c"
	LanguageCPP        Language = "cpp"
	LanguageJava       Language = "java"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
)

// LanguageSpec describes how one language is built and run.
// Command templates accept {src}, {bin} and {dir} placeholders and are split with shell quoting rules.
type LanguageSpec struct {
	ID         Language `yaml:"id"`
	SourceFile string   `yaml:"sourceFile"`
	BinaryFile string   `yaml:"binaryFile"`
	CompileCmd string   `yaml:"compileCmd"`
	RunCmd     string   `yaml:"runCmd"`
}

// Compiled reports whether the language has a build step.
func (l LanguageSpec) Compiled() bool {
	return strings.TrimSpace(l.CompileCmd) != ""
}

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() map[Language]LanguageSpec {
	return map[Language]LanguageSpec{
		LanguageC: {
			ID:         LanguageC,
			SourceFile: "main.c",
			BinaryFile: "main",
			CompileCmd: "gcc -O2 -std=c11 -o {bin} {src} -lm",
			RunCmd:     "{bin}",
		},
		LanguageCPP: {
			ID:         LanguageCPP,
			SourceFile: "main.cpp",
			BinaryFile: "main",
			CompileCmd: "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmd:     "{bin}",
		},
		LanguageJava: {
			ID:         LanguageJava,
			SourceFile: "Main.java",
			CompileCmd: "javac -encoding UTF-8 -d {dir} {src}",
			RunCmd:     "java -Xss64m -cp {dir} Main",
		},
		LanguagePython: {
			ID:         LanguagePython,
			SourceFile: "main.py",
			RunCmd:     "python3 {src}",
		},
		LanguageJavaScript: {
			ID:         LanguageJavaScript,
			SourceFile: "main.js",
			RunCmd:     "node {src}",
		},
	}
}

// ParseLanguage maps a client supplied name onto the closed language set.
func ParseLanguage(name string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "c":
		return LanguageC, true
	case "cpp", "c++":
		return LanguageCPP, true
	case "java":
		return LanguageJava, true
	case "python", "python3", "py":
		return LanguagePython, true
	case "javascript", "js", "node":
		return LanguageJavaScript, true
	default:
		return "", false
	}
}

// MergeLanguages overlays non-empty fields of overrides onto the built-in table.
// Entries for unknown languages are ignored.
func MergeLanguages(overrides []LanguageSpec) map[Language]LanguageSpec {
	table := DefaultLanguages()
	for _, o := range overrides {
		base, ok := table[o.ID]
		if !ok {
			continue
		}
		if o.SourceFile != "" {
			base.SourceFile = o.SourceFile
		}
		if o.BinaryFile != "" {
			base.BinaryFile = o.BinaryFile
		}
		if o.CompileCmd != "" {
			base.CompileCmd = o.CompileCmd
		}
		if o.RunCmd != "" {
			base.RunCmd = o.RunCmd
		}
		table[o.ID] = base
	}
	return table
}

func expandCommand(tpl string, spec LanguageSpec, dir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("command template is required")
	}
	binary := spec.BinaryFile
	if binary == "" {
		binary = "main"
	}
	expanded := strings.NewReplacer(
		"{src}", filepath.Join(dir, spec.SourceFile),
		"{bin}", filepath.Join(dir, binary),
		"{dir}", dir,
	).Replace(tpl)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse command template failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("command is empty after expansion")
	}
	return fields, nil
}
