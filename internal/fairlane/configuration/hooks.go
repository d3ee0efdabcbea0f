package configuration

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/fairlane-io/fairlane/internal/fairlane/scheduling"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(CostAggregatorHookFunc()),
}

// CostAggregatorHookFunc decodes the costAggregator config string into the
// corresponding scheduling.CostAggregator function.
func CostAggregatorHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(scheduling.CostAggregator(nil)) {
			return data, nil
		}
		return ParseCostAggregator(data.(string))
	}
}

func ParseCostAggregator(name string) (scheduling.CostAggregator, error) {
	switch name {
	case "", "sum":
		return scheduling.SumCost, nil
	case "dominant", "max":
		return scheduling.DominantCost, nil
	default:
		return nil, errors.Errorf("unknown cost aggregator %q", name)
	}
}
