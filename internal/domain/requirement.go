package domain

import (
	"strings"
)

type RequirementKind string

const (
	RequirementConda    RequirementKind = "conda"
	RequirementPip      RequirementKind = "pip"
	RequirementRepo     RequirementKind = "repo"
	RequirementCmd      RequirementKind = "cmd"
	RequirementURLSpec  RequirementKind = "url"
	RequirementPlainPip RequirementKind = "plain"
)

// Requirement is one parsed dependency line of the form `[type ":"] libs`.
type Requirement struct {
	Kind RequirementKind
	Args []string
	Raw  string
}

func ParseRequirement(line string) (Requirement, error) {
	raw := strings.TrimSpace(line)
	kind, rest, found := strings.Cut(raw, ":")
	if !found {
		return Requirement{Kind: RequirementPlainPip, Args: []string{raw}, Raw: raw}, nil
	}

	typ := strings.TrimSpace(kind)
	args := strings.Fields(rest)
	switch RequirementKind(typ) {
	case RequirementConda, RequirementPip, RequirementRepo, RequirementCmd:
		return Requirement{Kind: RequirementKind(typ), Args: args, Raw: raw}, nil
	}

	if strings.Contains(typ, "+") || strings.Contains(typ, "http") {
		return Requirement{Kind: RequirementURLSpec, Args: []string{raw}, Raw: raw}, nil
	}

	return Requirement{}, &UnsupportedRequirementTypeError{Type: typ, Requirement: raw}
}

// Commands renders the shell-escaped notebook commands for the requirement.
func (r Requirement) Commands(condaAvailable bool) []string {
	switch r.Kind {
	case RequirementConda:
		if !condaAvailable || len(r.Args) == 0 {
			return nil
		}
		return []string{"!conda install -y " + strings.Join(r.Args, " ")}
	case RequirementPip:
		if len(r.Args) == 0 {
			return nil
		}
		return []string{"!pip install " + strings.Join(r.Args, " ")}
	case RequirementRepo:
		if len(r.Args) == 0 {
			return nil
		}
		dest := repoDirName(r.Args[0])
		if len(r.Args) > 1 {
			dest = r.Args[1]
		}
		return []string{"!git clone --progress --depth=1 " + r.Args[0] + " " + dest}
	case RequirementCmd:
		if len(r.Args) == 0 {
			return nil
		}
		return []string{strings.Join(r.Args, " ")}
	case RequirementURLSpec, RequirementPlainPip:
		return []string{"!pip install " + r.Args[0]}
	default:
		return nil
	}
}

// BuildCommands parses every line before producing any output so an
// unsupported type aborts the whole batch.
func BuildCommands(lines []string, condaAvailable bool) ([]string, error) {
	reqs := make([]Requirement, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		req, err := ParseRequirement(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	commands := make([]string, 0, len(reqs))
	for _, req := range reqs {
		commands = append(commands, req.Commands(condaAvailable)...)
	}
	return commands, nil
}

func repoDirName(repoURL string) string {
	trimmed := strings.TrimRight(repoURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return strings.TrimSuffix(trimmed, ".git")
}
