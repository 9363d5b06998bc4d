package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const (
	DefaultModel      = "gpt-4o-mini"
	DefaultUserPrefix = "Mensagem do cliente:\n"
)

const defaultSystemPrompt = `Você é uma IA que atua como classificadora de assuntos de mensagens.

Você receberá uma sequência de mensagens concatenadas do mesmo cliente (leadId), representando toda a conversa desse cliente.

Sua tarefa é identificar **todos os assuntos** que aparecem nas mensagens dessa conversa, e listá-los.

Os assuntos possíveis são:

- contato
- endereço
- locais do clube
- associação e planos (valores, dependentes)
- regras
- serviços
- eventos
- atividades
- reclamações
- assuntos gerais

IMPORTANTE:
- Responda apenas com a linha:
  Assuntos: [assunto1], [assunto2], [assunto3], ...
- Liste todos os assuntos que aparecem na conversa, separados por vírgula.
- Não repita assuntos iguais.
- Não explique nada além disso.
`

// DefaultProfile is used when CLASSIFIER_PROFILE is not set.
func DefaultProfile() domain.Profile {
	return domain.Profile{
		Name:         "default",
		Model:        DefaultModel,
		SystemPrompt: defaultSystemPrompt,
		UserPrefix:   DefaultUserPrefix,
		Rules: []domain.LabelRule{
			{Field: domain.FieldSubjects, Prefixes: []string{"assuntos:", "assunto:"}, Match: domain.MatchPrefix},
		},
	}
}

// LoadProfile reads a YAML classification profile. Empty fields fall back to
// DefaultProfile; modelOverride wins over the file when set.
func LoadProfile(path, modelOverride string) (domain.Profile, error) {
	profile := DefaultProfile()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return domain.Profile{}, domain.WrapError(domain.ErrConfiguration, "read profile", err)
		}
		profile, err = ParseProfile(raw)
		if err != nil {
			return domain.Profile{}, domain.WrapError(domain.ErrConfiguration, "parse profile "+path, err)
		}
	}
	if modelOverride != "" {
		profile.Model = modelOverride
	}
	return profile, nil
}

func ParseProfile(raw []byte) (domain.Profile, error) {
	var profile domain.Profile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&profile); err != nil {
		return domain.Profile{}, fmt.Errorf("decode yaml: %w", err)
	}

	def := DefaultProfile()
	if profile.Name == "" {
		return domain.Profile{}, errors.New("profile name is required")
	}
	if profile.Model == "" {
		profile.Model = def.Model
	}
	if strings.TrimSpace(profile.SystemPrompt) == "" {
		profile.SystemPrompt = def.SystemPrompt
	}
	if profile.UserPrefix == "" {
		profile.UserPrefix = def.UserPrefix
	}
	if len(profile.Rules) == 0 {
		profile.Rules = def.Rules
	}

	hasSubjects := false
	for i, rule := range profile.Rules {
		switch rule.Field {
		case domain.FieldSubjects:
			hasSubjects = true
		case domain.FieldAuxiliary:
		default:
			return domain.Profile{}, fmt.Errorf("rule %d: unknown field %q", i, rule.Field)
		}
		switch rule.Match {
		case "", domain.MatchPrefix, domain.MatchContains:
		default:
			return domain.Profile{}, fmt.Errorf("rule %d: unknown match %q", i, rule.Match)
		}
		if len(rule.Prefixes) == 0 {
			return domain.Profile{}, fmt.Errorf("rule %d: at least one prefix is required", i)
		}
	}
	if !hasSubjects {
		return domain.Profile{}, errors.New("a subjects rule is required")
	}
	return profile, nil
}
