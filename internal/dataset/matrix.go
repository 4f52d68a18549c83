package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RunConfig is one (agent mode, model) pair executed against the dataset.
type RunConfig struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Agent  string `json:"agent" yaml:"agent" validate:"required"`
	Model  string `json:"model" yaml:"model" validate:"required"`
	Attach string `json:"attach,omitempty" yaml:"attach,omitempty" validate:"omitempty,url"`
}

type Matrix struct {
	Name string      `json:"name" yaml:"name"`
	Runs []RunConfig `json:"runs" yaml:"runs" validate:"required,min=1,unique=Name,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadMatrix reads a YAML or JSON matrix file. Both a {name, runs} mapping and
// a bare list of runs are accepted; a bare list takes its name from the file.
func LoadMatrix(path string) (Matrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return Matrix{}, fmt.Errorf("invalid matrix %s: %w", path, err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return Matrix{}, fmt.Errorf("invalid matrix %s: empty document", path)
	}
	var m Matrix
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		if err := node.Content[0].Decode(&m.Runs); err != nil {
			return Matrix{}, fmt.Errorf("invalid matrix %s: %w", path, err)
		}
	} else if err := node.Decode(&m); err != nil {
		return Matrix{}, fmt.Errorf("invalid matrix %s: %w", path, err)
	}

	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i := range m.Runs {
		r := &m.Runs[i]
		r.Name = strings.TrimSpace(r.Name)
		r.Agent = strings.TrimSpace(r.Agent)
		r.Model = strings.TrimSpace(r.Model)
		r.Attach = strings.TrimSpace(r.Attach)
	}
	if err := ValidateMatrix(m); err != nil {
		return Matrix{}, fmt.Errorf("invalid matrix %s: %w", path, err)
	}
	return m, nil
}

func ValidateMatrix(m Matrix) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
