package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrRulesEmpty é retornado quando o arquivo de regras não tem conteúdo.
var ErrRulesEmpty = errors.New("rules file is empty")

// rulesFile é o formato YAML:
//
//	thresholds:
//	  rate_limit: 100
//	  burst: 20
//	  connections: 50
//	  soft_rate: 30
//	signatures: [ddosbot, floodbot]
//	attack_header: X-Attack-Type
//
// Campos omitidos ficam com o padrão. "signatures: []" desliga a checagem
// de User-Agent.
type rulesFile struct {
	Thresholds struct {
		RateLimit   int `yaml:"rate_limit"`
		Burst       int `yaml:"burst"`
		Connections int `yaml:"connections"`
		SoftRate    int `yaml:"soft_rate"`
	} `yaml:"thresholds"`
	Signatures   []string `yaml:"signatures"`
	AttackHeader string   `yaml:"attack_header"`
}

// ParseRules decodifica regras em YAML. Campos desconhecidos são erro.
func ParseRules(data []byte) (domain.Rules, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Rules{}, ErrRulesEmpty
	}

	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return domain.Rules{}, fmt.Errorf("parse rules: %w", err)
	}

	th := f.Thresholds
	if th.RateLimit < 0 || th.Burst < 0 || th.Connections < 0 || th.SoftRate < 0 {
		return domain.Rules{}, fmt.Errorf("parse rules: thresholds must not be negative")
	}

	sigs := f.Signatures
	if sigs == nil {
		sigs = domain.DefaultSignatures()
	}

	return domain.Rules{
		Thresholds: domain.Thresholds{
			RateLimit:   th.RateLimit,
			Burst:       th.Burst,
			Connections: th.Connections,
			SoftRate:    th.SoftRate,
		},
		Signatures:   sigs,
		AttackHeader: f.AttackHeader,
	}.Normalize(), nil
}

// LoadRules lê e decodifica o arquivo de regras.
func LoadRules(path string) (domain.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Rules{}, fmt.Errorf("load rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return domain.Rules{}, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

const rulesDebounce = 200 * time.Millisecond

// WatchRules observa o arquivo e chama apply a cada alteração válida.
// Arquivo inválido ou recusado por apply é logado e as regras atuais
// continuam valendo.
//
// Observa o diretório e não o arquivo: editores e ConfigMaps trocam o
// arquivo via rename.
func WatchRules(ctx context.Context, path string, log *slog.Logger, apply func(domain.Rules) error) error {
	if log == nil {
		log = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("rules watcher: watch %s: %w", filepath.Dir(target), err)
	}
	log.Info("rules.watch.start", "path", target)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(rulesDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("rules.watch.error", "err", err)

		case <-debounce:
			debounce = nil
			rules, err := LoadRules(target)
			if err != nil {
				log.Warn("rules.reload.fail", "path", target, "err", err)
				continue
			}
			if err := apply(rules); err != nil {
				log.Warn("rules.reload.rejected", "path", target, "err", err)
			}
		}
	}
}
