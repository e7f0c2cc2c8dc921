package eventbus

import (
	"encoding/json"
	"time"

	"PChatGate/tools/errs"

	"github.com/google/uuid"
)

// Channel 固定的单用途频道
type Channel string

const (
	ChannelMessageNew  Channel = "channel:message:new"
	ChannelTypingStart Channel = "channel:typing:start"
	ChannelTypingStop  Channel = "channel:typing:stop"
	ChannelUserOnline  Channel = "channel:user:online"
	ChannelUserOffline Channel = "channel:user:offline"
	ChannelMessageRead Channel = "channel:message:read"
)

// AllChannels is the set every gateway instance subscribes to.
func AllChannels() []Channel {
	return []Channel{
		ChannelMessageNew,
		ChannelTypingStart,
		ChannelTypingStop,
		ChannelUserOnline,
		ChannelUserOffline,
		ChannelMessageRead,
	}
}

// Envelope 总线上传输的外层结构
type Envelope struct {
	ID     string          `json:"id"`
	Origin string          `json:"origin"`
	TS     int64           `json:"ts"`
	Data   json.RawMessage `json:"data"`
}

// Event is one decoded delivery.
type Event struct {
	Channel Channel
	Envelope
}

// Bind decodes the payload into v.
func (e Event) Bind(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errs.ErrInvalidInput.WrapMsg("bad event payload", "channel", string(e.Channel), "id", e.ID, "err", err.Error())
	}
	return nil
}

func encode(origin string, data any) (Envelope, []byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, nil, errs.WrapMsg(err, "marshal event data")
	}
	env := Envelope{
		ID:     uuid.NewString(),
		Origin: origin,
		TS:     time.Now().UnixMilli(),
		Data:   raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, errs.WrapMsg(err, "marshal envelope")
	}
	return env, b, nil
}

func decode(m Message) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil {
		return Event{}, errs.ErrInvalidInput.WrapMsg("bad envelope", "channel", string(m.Channel), "err", err.Error())
	}
	if len(env.Data) == 0 {
		return Event{}, errs.ErrInvalidInput.WrapMsg("envelope without data", "channel", string(m.Channel), "id", env.ID)
	}
	return Event{Channel: m.Channel, Envelope: env}, nil
}
