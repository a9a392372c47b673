package clustering

import "context"

// Default DBSCAN parameters.
const (
	DefaultEps       = 1.0
	DefaultMinPoints = 4
)

// Params are the DBSCAN density parameters.
type Params struct {
	Eps       float64
	MinPoints uint32
}

// DefaultParams returns DefaultEps and DefaultMinPoints.
func DefaultParams() Params {
	return Params{Eps: DefaultEps, MinPoints: DefaultMinPoints}
}

// ClustererInterface clusters point sets with runtime-adjustable parameters.
type ClustererInterface interface {
	Cluster(ctx context.Context, points *PointSet) (Labeling, error)
	GetParams() Params
	SetParams(params Params)
}

// DBSCANClusterer binds an Engine to a parameter set.
type DBSCANClusterer struct {
	engine *Engine
	params Params
}

// NewDBSCANClusterer creates a clusterer running on engine with params.
func NewDBSCANClusterer(engine *Engine, params Params) *DBSCANClusterer {
	return &DBSCANClusterer{engine: engine, params: params}
}

// Cluster runs the engine with the current parameters.
func (c *DBSCANClusterer) Cluster(ctx context.Context, points *PointSet) (Labeling, error) {
	return c.engine.Cluster(ctx, points, c.params.Eps, c.params.MinPoints)
}

// GetParams returns the current clustering parameters.
func (c *DBSCANClusterer) GetParams() Params {
	return c.params
}

// SetParams updates the clustering parameters.
func (c *DBSCANClusterer) SetParams(params Params) {
	c.params = params
}

// Verify at compile time that *DBSCANClusterer implements ClustererInterface.
var _ ClustererInterface = (*DBSCANClusterer)(nil)
