package sentinel

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/redwich/sentinel/redisconn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonMarshalEvent encodes an Event for the optional NATS publisher, using
// json-iterator/go as the drop-in encoder the rest of this module's ambient
// stack standardizes on.
func jsonMarshalEvent(ev Event) ([]byte, error) {
	payload := struct {
		Kind     string `json:"kind"`
		ServerID string `json:"server_id,omitempty"`
		State    string `json:"state,omitempty"`
		Shard    int    `json:"shard"`
	}{
		Kind:     ev.Kind.String(),
		ServerID: ev.ServerID,
		State:    ev.State.String(),
		Shard:    ev.Shard,
	}
	return jsonAPI.Marshal(payload)
}

// notReadyReply is the synthetic reply delivered when a command's deadline
// passes while it is still waiting for a shard to become usable (spec.md
// §4.6, §7).
func notReadyReply() redisconn.Reply {
	return redisconn.Reply{Kind: redisconn.ReplyUnusableInstance, ErrMsg: "no shard instance became ready before deadline"}
}
