package errs

import (
	"errors"

	"github.com/xtding233/gacha-pity/internal/gacha"
)

// Banner classifies a failed Banner.Validate. Authoring paths pass KindValidation;
// a banner met at pull or simulation time is a KindConfig fault.
func Banner(err error, kind Kind) *E {
	switch {
	case errors.Is(err, gacha.ErrEmptyPool):
		return Wrap(err, EmptyPool, kind, "banner pool is empty")
	case errors.Is(err, gacha.ErrRateTable):
		return Wrap(err, RateTableInvalid, kind, "banner rate table is invalid")
	default:
		return Wrap(err, BannerInvalid, kind, "banner config is invalid")
	}
}
