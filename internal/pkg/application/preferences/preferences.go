package preferences

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	repo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/preferences"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/samber/lo"
)

var ErrInvalidPreference = fmt.Errorf("invalid preference")

type PreferenceService interface {
	Get(ctx context.Context) (types.Preference, error)
	Set(ctx context.Context, p types.Preference) (types.Preference, error)
}

type preferenceSvc struct {
	repo repo.PreferenceRepository
}

func New(r repo.PreferenceRepository) PreferenceService {
	return &preferenceSvc{repo: r}
}

func (svc *preferenceSvc) Get(ctx context.Context) (types.Preference, error) {
	p, err := svc.repo.Get(ctx)
	if errors.Is(err, repo.ErrNoPreference) {
		return types.DefaultPreference(), nil
	}

	return p, err
}

func (svc *preferenceSvc) Set(ctx context.Context, p types.Preference) (types.Preference, error) {
	p, err := Validate(p)
	if err != nil {
		return types.Preference{}, err
	}

	err = svc.repo.Save(ctx, p)
	if err != nil {
		return types.Preference{}, err
	}

	return p, nil
}

// Validate checks a preference and returns it with its channels de-duplicated and sorted.
func Validate(p types.Preference) (types.Preference, error) {
	if math.IsNaN(p.ThresholdKwh) || math.IsInf(p.ThresholdKwh, 0) || p.ThresholdKwh <= 0 {
		return types.Preference{}, fmt.Errorf("%w: threshold must be a positive number of kWh", ErrInvalidPreference)
	}

	if p.Unit != types.UnitKwh && p.Unit != types.UnitCost {
		return types.Preference{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidPreference, p.Unit)
	}

	for _, c := range p.NotificationChannels {
		if c != types.ChannelEmail && c != types.ChannelPush && c != types.ChannelSMS {
			return types.Preference{}, fmt.Errorf("%w: unknown notification channel %q", ErrInvalidPreference, c)
		}
	}

	channels := lo.Uniq(p.NotificationChannels)
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	p.NotificationChannels = channels

	return p, nil
}
