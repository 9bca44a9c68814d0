package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"splinewarp/internal/models"
	"splinewarp/pkg/apply"
	"splinewarp/pkg/interpolation"
	"splinewarp/pkg/params"
)

type applyFlags struct {
	parameterFile string
	input         string
	sliceGap      float64
	points        string
	out           string
	threads       int

	deformation bool
	jacobian    bool
	jacobianMat bool
	previews    bool
	logToFile   bool
}

func (c *cli) applyCommand() *cobra.Command {
	f := &applyFlags{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a transform parameter file to an image, a point set or the output grid",
		Example: `  splinewarp apply --tp TransformParameters.yaml --in moving.mhd --out results
  splinewarp apply --tp TransformParameters.yaml --in slices/ --slice-gap 1.5 --jac --previews
  splinewarp apply --tp TransformParameters.yaml --points fixed_points.txt --out results`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runApply(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.parameterFile, "tp", "", "Transform parameter file")
	flags.StringVar(&f.input, "in", "", "Input image: a .mhd file or a directory of JPEG slices")
	flags.Float64Var(&f.sliceGap, "slice-gap", 1.0, "Slice spacing in mm when --in is a slice directory")
	flags.StringVar(&f.points, "points", "", "Point set file to transform")
	flags.StringVar(&f.out, "out", "", "Output directory (overrides the configuration)")
	flags.IntVar(&f.threads, "threads", 0, "Number of workers (overrides the configuration)")
	flags.BoolVar(&f.deformation, "def", false, "Compute the deformation field")
	flags.BoolVar(&f.jacobian, "jac", false, "Compute the determinant of the spatial Jacobian")
	flags.BoolVar(&f.jacobianMat, "jacmat", false, "Compute the full spatial Jacobian")
	flags.BoolVar(&f.previews, "previews", false, "Save JPEG middle slices of the produced images")
	flags.BoolVar(&f.logToFile, "log-to-file", false, "Write transformix.log into the output directory")
	cmd.MarkFlagRequired("tp")
	return cmd
}

func (c *cli) runApply(cmd *cobra.Command, f *applyFlags) error {
	req, err := c.request(cmd, f)
	if err != nil {
		return err
	}

	maps, err := params.Load(f.parameterFile)
	if err != nil {
		return err
	}

	var input *models.Image
	if f.input != "" {
		if input, err = loadInput(f.input, f.sliceGap); err != nil {
			return err
		}
		c.logger.Info().Str("path", f.input).Ints("size", input.Size).Msg("input image loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bundle, err := apply.New(apply.WithLogger(c.logger)).RunParameterMaps(ctx, maps, input, req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if s := bundle.JacobianStatistics; s != nil {
		fmt.Fprintf(w, "det(J): mean %.4f, std %.4f, min %.4f, max %.4f, folds %d\n",
			s.Mean, s.StdDev, s.Min, s.Max, s.Folds)
	}
	for _, file := range bundle.Files {
		fmt.Fprintln(w, "Written:", file)
	}
	return nil
}

// request merges the configuration with the command line
func (c *cli) request(cmd *cobra.Command, f *applyFlags) (apply.Request, error) {
	cfg := c.cfg
	method, err := interpolation.ParseMethod(cfg.Apply.Interpolator)
	if err != nil {
		return apply.Request{}, err
	}

	req := apply.Request{
		ComputeDeformationField:             cfg.Apply.ComputeDeformationField,
		ComputeSpatialJacobian:              cfg.Apply.ComputeSpatialJacobian,
		ComputeDeterminantOfSpatialJacobian: cfg.Apply.ComputeDeterminantOfSpatialJacobian,
		InputPointSetFileName:               f.points,
		OutputDirectory:                     cfg.Output.Directory,
		LogToConsole:                        cfg.Output.LogToConsole,
		LogToFile:                           cfg.Output.LogToFile,
		LogFileName:                         cfg.Output.LogFileName,
		Verbose:                             cfg.Output.Verbose,
		NumWorkers:                          cfg.Processing.NumCores,
		WriteOutputs:                        true,
		SavePreviews:                        cfg.Output.SavePreviews,
		DefaultPixelValue:                   cfg.Apply.DefaultPixelValue,
		Interpolator:                        method,
	}

	flags := cmd.Flags()
	if flags.Changed("def") {
		req.ComputeDeformationField = f.deformation
	}
	if flags.Changed("jac") {
		req.ComputeDeterminantOfSpatialJacobian = f.jacobian
	}
	if flags.Changed("jacmat") {
		req.ComputeSpatialJacobian = f.jacobianMat
	}
	if flags.Changed("previews") {
		req.SavePreviews = f.previews
	}
	if flags.Changed("log-to-file") {
		req.LogToFile = f.logToFile
	}
	if f.out != "" {
		req.OutputDirectory = f.out
	}
	if f.threads > 0 {
		req.NumWorkers = f.threads
	}
	return req, nil
}

// loadInput reads a MetaImage file or stacks a directory of JPEG slices
func loadInput(path string, sliceGap float64) (*models.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return apply.LoadSlices(path, sliceGap)
	}
	return apply.ReadMetaImage(path)
}
