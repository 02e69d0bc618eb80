package app

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mersect/internal/cli"
	"mersect/internal/seqgen"
)

func newGenerateCmd() *cobra.Command {
	var (
		opts     seqgen.Options
		compress string
	)
	cmd := &cobra.Command{
		Use:   "generate [flags] LENGTH...",
		Short: "Write random FASTA or FASTQ fixtures",
		Long: `Writes PREFIX.fa for a single length, or PREFIX_<i>.fa for several
(.fq with --fastq). Sequence lines are 70 bases; FASTQ qualities are drawn
from the Illumina range.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, a := range args {
				n, err := cli.ParseSize(a)
				if err != nil {
					return fmt.Errorf("%w: length %s: %v", cli.ErrConfig, a, err)
				}
				if n > 1<<40 {
					return fmt.Errorf("%w: length %s too large", cli.ErrConfig, a)
				}
				opts.Lengths = append(opts.Lengths, int(n))
			}
			c, err := seqgen.ParseCompression(compress)
			if err != nil {
				return fmt.Errorf("%w: %w", cli.ErrConfig, err)
			}
			opts.Compression = c
			for _, p := range seqgen.Paths(opts) {
				if len(p) > cli.MaxPathLen {
					return fmt.Errorf("%w: output prefix too long", cli.ErrConfig)
				}
			}
			paths, err := seqgen.Write(opts)
			if err != nil {
				return runtimeErr(err)
			}
			for i, p := range paths {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p+"\t"+strconv.Itoa(opts.Lengths[i]))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.FASTQ, "fastq", false, "write FASTQ instead of FASTA")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "generator seed")
	cmd.Flags().StringVarP(&opts.Prefix, "output", "o", "sequence", "output prefix")
	cmd.Flags().StringVar(&compress, "compress", "", "compress output: gz, zst or lz4")
	return cmd
}
