package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/repository"
)

// resolution is the gate decision before any write is accepted.
type resolution struct {
	proceed       bool
	serverVersion int64
	snapshot      *model.Passation
}

// authorize compares the client-declared version with the server's before a
// write. Equal versions proceed. A client behind gets the authoritative
// snapshot back so it can rebase instead of guessing. A client claiming a
// version ahead of the server never happens under correct behavior; it is
// logged for investigation and rejected like any other conflict.
func (s *SyncService) authorize(ctx context.Context, passationID uuid.UUID, clientVersion int64) (resolution, error) {
	p, err := s.passations.GetByID(ctx, passationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return resolution{}, err
		}
		return resolution{}, fmt.Errorf("load passation: %w", err)
	}

	if clientVersion == p.Version {
		return resolution{proceed: true, serverVersion: p.Version, snapshot: p}, nil
	}

	if clientVersion > p.Version {
		s.log.Warn().
			Str("passation_id", passationID.String()).
			Int64("client_version", clientVersion).
			Int64("server_version", p.Version).
			Msg("Client declared a version ahead of the server")
	}

	return resolution{proceed: false, serverVersion: p.Version, snapshot: p.Clone()}, nil
}
