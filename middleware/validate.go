package middleware

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/router"
)

// RouteRulesKey is the context value key under which the dispatcher
// stores the matched route's parameter-type rules for the validation
// stage to pick up.
const RouteRulesKey = "route_rules"

// ValidateParams returns the stage that checks bound parameters against
// the matched route's type rules. Parameters without a rule, rules of
// type any, and rules whose parameter is absent all pass. The first
// mismatch, in rule-name order, ends the request with 400.
func ValidateParams() relay.Handler {
	return func(c *relay.Context) {
		rules := routeRules(c)
		if len(rules) == 0 {
			c.Next()
			return
		}

		names := make([]string, 0, len(rules))
		for name := range rules {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			want := rules[name]
			if want == router.TypeAny {
				continue
			}
			value, ok := c.Param(name)
			if !ok {
				continue
			}
			if got := paramType(value); got != want {
				GetStageMetrics().validationFailed.Inc()
				c.Error(http.StatusBadRequest,
					relay.NewInvalidParamError(name, string(want), string(got)).Error())
				return
			}
		}
		c.Next()
	}
}

func routeRules(c *relay.Context) router.Rules {
	value, ok := c.Get(RouteRulesKey)
	if !ok {
		return nil
	}
	rules, _ := value.(router.Rules)
	return rules
}

// paramType maps a bound value's runtime type to a rule type. JSON
// decoding yields float64 for every number, so the other numeric kinds
// are grouped with it for values bound by handler code.
func paramType(value any) router.ParamType {
	switch value.(type) {
	case string:
		return router.TypeString
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return router.TypeNumber
	case bool:
		return router.TypeBoolean
	case []any, []string:
		return router.TypeArray
	case map[string]any:
		return router.TypeObject
	case nil:
		return "null"
	default:
		return router.ParamType(fmt.Sprintf("%T", value))
	}
}
