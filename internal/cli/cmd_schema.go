package cli

import (
	"github.com/spf13/cobra"

	"github.com/marcohefti/skilleval/internal/dataset"
)

func (r Runner) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a dataset record",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			b, err := dataset.GenerateCaseSchema()
			if err != nil {
				return ioError(err.Error())
			}
			if _, err := r.Stdout.Write(append(b, '\n')); err != nil {
				return ioError(err.Error())
			}
			return nil
		},
	}
}
