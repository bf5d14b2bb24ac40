package forwarder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// spoolLoop submits the txpk files dropped in the spool directory.
// They are admitted like any other downlink, as immediate class C requests.
func (f *Forwarder) spoolLoop(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.SpoolInterval)
	defer ticker.Stop()

	log.Info().Str("path", f.cfg.SpoolPath).Msg("spool pusher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		entries, err := os.ReadDir(f.cfg.SpoolPath)
		if err != nil {
			log.Debug().Err(err).Msg("read spool directory")
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return nil
			}
			if !entry.Type().IsRegular() {
				continue
			}
			f.pushFile(ctx, filepath.Join(f.cfg.SpoolPath, entry.Name()))
		}
	}
}

// pushFile submits one spool file and deletes it once the downlink poller has
// answered. The file stays in place when the forwarder is stopping.
func (f *Forwarder) pushFile(ctx context.Context, path string) {
	body, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("read spool file")
		removeSpool(path)
		return
	}

	var req models.DownlinkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// 交给下行处理记录为 MALFORMED
		req = models.DownlinkRequest{}
	}

	res, err := f.submit(ctx, submission{
		source:    SourceSpool,
		req:       req,
		enc:       gateway.PayloadText,
		immediate: true,
	})
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("spool file left for next run")
		return
	}
	removeSpool(path)

	log.Info().
		Str("file", path).
		Str("status", string(res.Status)).
		Str("reason", res.Reason).
		Uint32("instant", res.CountUs).
		Msg("spool file submitted")
}

func removeSpool(path string) {
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("remove spool file")
	}
}
