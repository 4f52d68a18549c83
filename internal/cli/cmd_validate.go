package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/grade"
)

type validateResult struct {
	OK         bool               `json:"ok"`
	Dataset    string             `json:"dataset"`
	Cases      int                `json:"cases"`
	Categories map[string]int     `json:"categories,omitempty"`
	Problems   []dataset.Problem  `json:"problems,omitempty"`
	Matrix     *validateMatrixRes `json:"matrix,omitempty"`
}

type validateMatrixRes struct {
	Path  string   `json:"path"`
	Name  string   `json:"name,omitempty"`
	Runs  []string `json:"runs,omitempty"`
	Error string   `json:"error,omitempty"`
}

func (r Runner) validateCmd(_ *globalFlags) *cobra.Command {
	var datasetPath, matrixPath string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a dataset (and optionally a matrix) without running anything",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireFlag("dataset", datasetPath); err != nil {
				return err
			}
			res := validateInputs(datasetPath, matrixPath)
			if jsonOut {
				if err := r.writeJSON(res); err != nil {
					return err
				}
			} else {
				r.printValidate(res)
			}
			if !res.OK {
				return exitStatus(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "JSONL test case file (required)")
	cmd.Flags().StringVar(&matrixPath, "matrix", "", "YAML or JSON run matrix")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func validateInputs(datasetPath, matrixPath string) validateResult {
	res := validateResult{OK: true, Dataset: datasetPath}
	cases, err := dataset.LoadCases(datasetPath)
	if err != nil {
		res.OK = false
		var le *dataset.LoadError
		if errors.As(err, &le) {
			res.Problems = le.Problems
		} else {
			res.Problems = []dataset.Problem{{Message: err.Error()}}
		}
	}
	for _, tc := range cases {
		if err := grade.CompileExpressions(tc); err != nil {
			res.OK = false
			res.Problems = append(res.Problems, dataset.Problem{CaseID: tc.ID, Message: err.Error()})
		}
	}
	res.Cases = len(cases)
	if len(cases) > 0 {
		res.Categories = map[string]int{}
		for _, tc := range cases {
			cat := tc.Category
			if cat == "" {
				cat = "(none)"
			}
			res.Categories[cat]++
		}
	}

	if matrixPath != "" {
		mr := &validateMatrixRes{Path: matrixPath}
		m, err := dataset.LoadMatrix(matrixPath)
		if err != nil {
			res.OK = false
			mr.Error = err.Error()
		} else {
			mr.Name = m.Name
			for _, rc := range m.Runs {
				mr.Runs = append(mr.Runs, rc.Name)
			}
		}
		res.Matrix = mr
	}
	return res
}

func (r Runner) printValidate(res validateResult) {
	if res.OK {
		fmt.Fprintf(r.Stdout, "ok: %s (%d cases)\n", res.Dataset, res.Cases)
	} else {
		fmt.Fprintf(r.Stdout, "invalid: %s\n", res.Dataset)
	}
	cats := make([]string, 0, len(res.Categories))
	for c := range res.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(r.Stdout, "  %s: %d\n", c, res.Categories[c])
	}
	for _, p := range res.Problems {
		switch {
		case p.Line == 0 && p.CaseID != "":
			fmt.Fprintf(r.Stdout, "  case %s: %s\n", p.CaseID, p.Message)
		case p.Line == 0:
			fmt.Fprintf(r.Stdout, "  %s\n", p.Message)
		case p.CaseID != "":
			fmt.Fprintf(r.Stdout, "  line %d (%s): %s\n", p.Line, p.CaseID, p.Message)
		default:
			fmt.Fprintf(r.Stdout, "  line %d: %s\n", p.Line, p.Message)
		}
	}
	if m := res.Matrix; m != nil {
		if m.Error != "" {
			fmt.Fprintf(r.Stdout, "matrix invalid: %s\n", m.Error)
		} else {
			fmt.Fprintf(r.Stdout, "matrix ok: %s (%d runs)\n", m.Path, len(m.Runs))
		}
	}
}
