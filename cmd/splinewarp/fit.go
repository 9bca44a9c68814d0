package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"splinewarp/internal/errdefs"
	"splinewarp/internal/models"
	"splinewarp/pkg/apply"
	"splinewarp/pkg/kernel"
	"splinewarp/pkg/landmark"
	"splinewarp/pkg/params"
	"splinewarp/pkg/transform"
)

type fitFlags struct {
	fixed, moving           string
	fixedImage, movingImage string
	initial                 string
	combine                 string
	kernelType              string
	stiffness               float64
	poissonRatio            float64
	inversion               string
	out                     string
}

func (c *cli) fitCommand() *cobra.Command {
	f := &fitFlags{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a spline kernel transform to corresponding landmarks",
		Example: `  splinewarp fit --fixed fixed.txt --moving moving.txt --kernel ElasticBodySpline --out TransformParameters.yaml
  splinewarp fit --fixed fixed.txt --moving moving.txt --fixed-image fixed.mhd --initial affine.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runFit(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.fixed, "fixed", "", "Fixed image landmark file")
	flags.StringVar(&f.moving, "moving", "", "Moving image landmark file; without it the transform is the identity")
	flags.StringVar(&f.fixedImage, "fixed-image", "", "Fixed image (.mhd) used to convert index landmarks and as output grid")
	flags.StringVar(&f.movingImage, "moving-image", "", "Moving image (.mhd) used to convert index landmarks")
	flags.StringVar(&f.initial, "initial", "", "Parameter file of an initial transform")
	flags.StringVar(&f.combine, "combine", string(transform.Compose), "How the kernel transform combines with the initial one (Compose or Add)")
	flags.StringVar(&f.kernelType, "kernel", "", "Kernel family (overrides the configuration)")
	flags.Float64Var(&f.stiffness, "stiffness", -1, "Relaxation factor (overrides the configuration)")
	flags.Float64Var(&f.poissonRatio, "poisson", -1, "Poisson ratio of the elastic kernels (overrides the configuration)")
	flags.StringVar(&f.inversion, "inversion", "", "Matrix inversion method, SVD or QR (overrides the configuration)")
	flags.StringVarP(&f.out, "out", "o", "TransformParameters.yaml", "Output parameter file")
	cmd.MarkFlagRequired("fixed")
	return cmd
}

func (c *cli) runFit(cmd *cobra.Command, f *fitFlags) error {
	spline := c.cfg.Spline
	if f.kernelType != "" {
		spline.KernelType = f.kernelType
	}
	if f.stiffness >= 0 {
		spline.RelaxationFactor = f.stiffness
	}
	if f.poissonRatio >= 0 {
		spline.PoissonRatio = f.poissonRatio
	}
	if f.inversion != "" {
		spline.InversionMethod = f.inversion
	}
	mode, err := transform.ParseCombineMode(f.combine)
	if err != nil {
		return err
	}

	opts := []landmark.Option{landmark.WithLogger(c.logger)}
	var fixedImage *models.Geometry
	if f.fixedImage != "" {
		img, err := apply.ReadMetaImage(f.fixedImage)
		if err != nil {
			return err
		}
		fixedImage = &img.Geometry
		opts = append(opts, landmark.WithFixedImage(img.Geometry))
	}
	if f.movingImage != "" {
		img, err := apply.ReadMetaImage(f.movingImage)
		if err != nil {
			return err
		}
		opts = append(opts, landmark.WithMovingImage(img.Geometry))
	}

	var chain []*params.Map
	if f.initial != "" {
		if chain, err = params.Load(f.initial); err != nil {
			return err
		}
		reg := transform.DefaultRegistry()
		initial, err := transform.FromParameterMaps(reg, chain, c.logger)
		reg.UnloadComponents()
		if err != nil {
			return err
		}
		opts = append(opts, landmark.WithInitialTransform(initial, spline.UseComposition))
	}

	source, target, err := landmark.NewResolver(opts...).ResolvePair(f.fixed, f.moving)
	if err != nil {
		return err
	}
	if len(source) == 0 {
		return fmt.Errorf("%w: %s holds no landmarks", errdefs.ErrLandmarkFile, f.fixed)
	}

	k, err := kernel.New(len(source[0]))
	if err != nil {
		return err
	}
	k.SetLogger(c.logger)
	if !k.SelectFamily(spline.KernelType) {
		return fmt.Errorf("%w: unknown kernel type %q", errdefs.ErrConfiguration, spline.KernelType)
	}
	inversion, err := kernel.ParseInversionMethod(spline.InversionMethod)
	if err != nil {
		return err
	}
	if err := k.Fit(source, target, kernel.Options{
		Stiffness:    spline.RelaxationFactor,
		PoissonRatio: spline.PoissonRatio,
		Inversion:    inversion,
	}); err != nil {
		return err
	}

	m := params.WriteKernel(k)
	if len(chain) > 0 {
		m.Set(transform.KeyHowToCombineTransforms, string(mode))
	}
	if fixedImage != nil {
		apply.SetGeometry(m, *fixedImage)
	}
	chain = append(chain, m)
	if err := params.Save(f.out, chain...); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Kernel:            %s\n", k.Family())
	fmt.Fprintf(w, "Landmarks:         %d\n", len(source))
	if target != nil {
		fmt.Fprintf(w, "RMS residual:      %.6g\n", k.Residual(source, target))
	}
	fmt.Fprintf(w, "Parameter file:    %s\n", f.out)
	return nil
}
