package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

const matriculeRetries = 5

// NewUniqueMatricule generates a matricule and reserves it in the store,
// retrying on collision. The generator itself makes no uniqueness promise;
// the reservation table is the authority.
func NewUniqueMatricule(ctx context.Context, store storage.Store, prefix string) (string, error) {
	for i := 0; i < matriculeRetries; i++ {
		m, err := protocol.NewMatricule(prefix)
		if err != nil {
			return "", BadRequest(err.Error(), err)
		}
		err = store.ReserveMatricule(ctx, m)
		if err == nil {
			return m, nil
		}
		if errors.Is(err, storage.ErrMatriculeExists) {
			continue
		}
		return "", Internal("reserve matricule", err)
	}
	return "", Internal(fmt.Sprintf("could not reserve a unique %s matricule after %d attempts", prefix, matriculeRetries), nil)
}
