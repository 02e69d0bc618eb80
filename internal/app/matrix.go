package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"mersect-core/gf2"
	"mersect-core/mer"
	"mersect/internal/cli"
)

// MatrixPath names the dump of the k-mer length k matrix.
func MatrixPath(prefix string, k int) string {
	return fmt.Sprintf("%s_matrix_%d", prefix, k)
}

func newMatrixCmd() *cobra.Command {
	var (
		ks     []int
		seed   uint64
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "matrix -m K [-m K...] -o PREFIX",
		Short: "Write hash matrices for later runs with --matrix",
		Long: `Writes PREFIX_matrix_K for every K. A matrix written with --seed S is the
one "mersect intersect --seed S" generates for the same k.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(ks) == 0 {
				return fmt.Errorf("%w: at least one --mer-len is required", cli.ErrConfig)
			}
			for _, k := range ks {
				if !mer.ValidK(k) {
					return fmt.Errorf("%w: --mer-len %d outside 1..%d", cli.ErrConfig, k, mer.MaxK)
				}
				if p := MatrixPath(prefix, k); len(p) > cli.MaxPathLen {
					return fmt.Errorf("%w: output prefix too long", cli.ErrConfig)
				}
			}
			for _, k := range ks {
				p := MatrixPath(prefix, k)
				if err := gf2.GenerateSeeded(2*k, seed).SaveFile(p); err != nil {
					return runtimeErr(err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVarP(&ks, "mer-len", "m", nil, "k-mer length (repeatable) [*]")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "generator seed")
	cmd.Flags().StringVarP(&prefix, "output", "o", "mersect", "output prefix")
	return cmd
}
