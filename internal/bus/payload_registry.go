package bus

import (
	"encoding/json"
	"reflect"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/types"
)

// payloadDecoders maps the type name NATSBus.Publish stamps onto a wire
// message back to the concrete Go type a subscriber's type switch expects.
// MemBus never needs this -- in-process messages carry Payload as the
// original Go value -- but NATSBus round-trips every payload through JSON,
// which otherwise leaves subscribers holding a bare json.RawMessage that
// no type switch case ever matches. Every struct published over the bus
// via types.NewMessage must have an entry here.
var payloadDecoders = map[string]func(json.RawMessage) (any, error){
	typeName(types.TradeIntent{}):         decodeInto[types.TradeIntent],
	typeName(types.RiskDecision{}):        decodeInto[types.RiskDecision],
	typeName(types.ExecutionCommand{}):    decodeInto[types.ExecutionCommand],
	typeName(types.Fill{}):                decodeInto[types.Fill],
	typeName(types.HeartbeatPayload{}):    decodeInto[types.HeartbeatPayload],
	typeName(types.PauseMsg{}):            decodeInto[types.PauseMsg],
	typeName(types.ResumeMsg{}):           decodeInto[types.ResumeMsg],
	typeName(types.ShutdownMsg{}):         decodeInto[types.ShutdownMsg],
	typeName(types.MetaDecisionMsg{}):     decodeInto[types.MetaDecisionMsg],
	typeName(types.CapitalAllocationMsg{}): decodeInto[types.CapitalAllocationMsg],
	typeName(types.KillSwitchMsg{}):       decodeInto[types.KillSwitchMsg],
	typeName(types.ResetKillSwitchMsg{}):  decodeInto[types.ResetKillSwitchMsg],
	typeName(types.UnquarantineMsg{}):     decodeInto[types.UnquarantineMsg],
	typeName(marketcache.Point{}):         decodeInto[marketcache.Point],
	typeName(alerts.Alert{}):              decodeInto[alerts.Alert],
}

func typeName(v any) string {
	return reflect.TypeOf(v).Name()
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodePayload turns a wire payload back into the concrete type named by
// typ, or returns the raw JSON unchanged if typ is unregistered -- a
// subscriber that only cares about raw bytes (there are none today, but
// the fallback keeps an unrecognized payload from panicking the bus).
func decodePayload(typ string, raw json.RawMessage) (any, error) {
	decode, ok := payloadDecoders[typ]
	if !ok {
		return raw, nil
	}
	return decode(raw)
}
