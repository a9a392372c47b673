package pipeline

import (
	"github.com/banshee-data/seathru/internal/backscatter"
	"github.com/banshee-data/seathru/internal/clustering"
	"github.com/banshee-data/seathru/internal/config"
	"github.com/banshee-data/seathru/internal/illuminant"
)

// SelectorParams maps the tuning config onto sample selector parameters.
func SelectorParams(cfg *config.TuningConfig) (backscatter.SelectorParams, error) {
	order, err := backscatter.ParseChannelOrder(cfg.GetChannelOrder())
	if err != nil {
		return backscatter.SelectorParams{}, err
	}
	return backscatter.SelectorParams{
		NumBins:          cfg.GetNumBins(),
		Fraction:         cfg.GetSampleFraction(),
		MaxPerBin:        cfg.GetMaxSamples(),
		MinDepthFraction: cfg.GetMinDepthFraction(),
		ChannelOrder:     order,
	}, nil
}

// EngineOptions maps the tuning config onto clustering engine options.
func EngineOptions(cfg *config.TuningConfig) clustering.Options {
	return clustering.Options{
		MaxPasses:     cfg.GetDBSCANMaxPasses(),
		FlattenOnHost: cfg.GetDBSCANFlattenOnHost(),
		MapTimeout:    cfg.GetMapTimeout(),
	}
}

// ClusterParams maps the tuning config onto DBSCAN density parameters.
func ClusterParams(cfg *config.TuningConfig) clustering.Params {
	return clustering.Params{
		Eps:       cfg.GetDBSCANEps(),
		MinPoints: uint32(cfg.GetDBSCANMinPoints()),
	}
}

// LSAParams maps the tuning config onto local space average parameters.
func LSAParams(cfg *config.TuningConfig) illuminant.Params {
	return illuminant.Params{
		P:             cfg.GetLSAP(),
		Convergence:   cfg.GetLSAConvergence(),
		MaxIterations: cfg.GetLSAMaxIterations(),
	}
}
