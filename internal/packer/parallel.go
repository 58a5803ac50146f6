package packer

import (
	"context"

	"github.com/ralt/debrepack/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RepackAll repacks pkgs with up to jobs concurrent workers. Results keep
// the order of pkgs; skipped packages are left out. The first fatal error
// cancels the remaining work and is returned once every worker has stopped.
func RepackAll(ctx context.Context, p Packer, pkgs []models.Package, opts RepackOptions, jobs int) ([]models.Package, error) {
	if jobs < 1 {
		jobs = 1
	}

	results := make([]*models.Package, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i := range pkgs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := p.Repack(gctx, pkgs[i], opts)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	repacked := make([]models.Package, 0, len(pkgs))
	for _, out := range results {
		if out != nil {
			repacked = append(repacked, *out)
		}
	}
	logrus.Infof("Repacked %d of %d packages (%d skipped)", len(repacked), len(pkgs), len(pkgs)-len(repacked))
	return repacked, nil
}
