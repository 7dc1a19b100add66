package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
)

type dumpFunc func(Stage, []*imaging.Raster)

// debugDumper writes intermediate rasters under DebugDir/<batch>/<n>_<stem>/
// when debugging is enabled. Write errors are logged and otherwise ignored.
func (o *Orchestrator) debugDumper(batchID string, id int, filename string) dumpFunc {
	if o.cfg.DebugDir == "" {
		return func(Stage, []*imaging.Raster) {}
	}
	dir := filepath.Join(o.cfg.DebugDir, batchID, fmt.Sprintf("%d_%s", id, archive.Stem(filename)))
	return func(st Stage, rs []*imaging.Raster) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			o.logger.Warn("debug dump failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		for i, r := range rs {
			data, err := imaging.EncodePNG(r)
			if err == nil {
				err = os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s_%d.png", st, i+1)), data, 0o644)
			}
			if err != nil {
				o.logger.Warn("debug dump failed", zap.String("dir", dir), zap.Stringer("stage", st), zap.Error(err))
				return
			}
		}
	}
}
