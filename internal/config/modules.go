package config

import (
	_ "github.com/currents-hub/currents/internal/upstream/bucket"
	_ "github.com/currents-hub/currents/internal/upstream/info"
	_ "github.com/currents-hub/currents/internal/upstream/magnitude"
	_ "github.com/currents-hub/currents/internal/upstream/tides"
	_ "github.com/currents-hub/currents/internal/upstream/tiles"
)
