package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the shape of a normalized payload.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindAudio     Kind = "audio"
	KindAnimation Kind = "animation"
	KindVideo     Kind = "video"
	KindBatch     Kind = "media_group"
)

// ErrUnsupportedKind is returned wherever a payload or inbound item has a
// shape the relay does not forward.
var ErrUnsupportedKind = errors.New("unsupported content kind")

// Payload is the normalized content of a submission. The concrete types are
// Text, Photo, Audio, Animation, Video and Batch; consumers switch on the
// concrete type and treat anything else as ErrUnsupportedKind.
type Payload interface {
	Kind() Kind
}

// GroupMedia is a payload that can be part of a Batch.
type GroupMedia interface {
	Payload
	groupMedia()
}

type Text struct {
	Body string
}

type Photo struct {
	FileID  string
	Caption string
}

type Audio struct {
	FileID  string
	Caption string
}

type Animation struct {
	FileID  string
	Caption string
}

type Video struct {
	FileID  string
	Caption string
}

// Batch is an ordered media group. Only the first item carries a caption.
type Batch struct {
	Items []GroupMedia
}

func (Text) Kind() Kind      { return KindText }
func (Photo) Kind() Kind     { return KindPhoto }
func (Audio) Kind() Kind     { return KindAudio }
func (Animation) Kind() Kind { return KindAnimation }
func (Video) Kind() Kind     { return KindVideo }
func (Batch) Kind() Kind     { return KindBatch }

func (Photo) groupMedia() {}
func (Audio) groupMedia() {}
func (Video) groupMedia() {}

// envelope is the stored JSON shape: {"type": ..., kind specific fields}.
type envelope struct {
	Type    Kind       `json:"type"`
	Text    string     `json:"text,omitempty"`
	FileID  string     `json:"file_id,omitempty"`
	Caption string     `json:"caption,omitempty"`
	Media   []envelope `json:"media,omitempty"`
}

// MarshalPayload encodes p into its stored JSON form.
func MarshalPayload(p Payload) ([]byte, error) {
	env, err := toEnvelope(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalPayload decodes the stored JSON form produced by MarshalPayload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return fromEnvelope(env)
}

func toEnvelope(p Payload) (envelope, error) {
	switch v := p.(type) {
	case Text:
		return envelope{Type: KindText, Text: v.Body}, nil
	case Photo:
		return envelope{Type: KindPhoto, FileID: v.FileID, Caption: v.Caption}, nil
	case Audio:
		return envelope{Type: KindAudio, FileID: v.FileID, Caption: v.Caption}, nil
	case Animation:
		return envelope{Type: KindAnimation, FileID: v.FileID, Caption: v.Caption}, nil
	case Video:
		return envelope{Type: KindVideo, FileID: v.FileID, Caption: v.Caption}, nil
	case Batch:
		env := envelope{Type: KindBatch, Media: make([]envelope, 0, len(v.Items))}
		for _, item := range v.Items {
			sub, err := toEnvelope(item)
			if err != nil {
				return envelope{}, err
			}
			env.Media = append(env.Media, sub)
		}
		return env, nil
	default:
		return envelope{}, fmt.Errorf("%w: %T", ErrUnsupportedKind, p)
	}
}

func fromEnvelope(env envelope) (Payload, error) {
	switch env.Type {
	case KindText:
		return Text{Body: env.Text}, nil
	case KindPhoto:
		return Photo{FileID: env.FileID, Caption: env.Caption}, nil
	case KindAudio:
		return Audio{FileID: env.FileID, Caption: env.Caption}, nil
	case KindAnimation:
		return Animation{FileID: env.FileID, Caption: env.Caption}, nil
	case KindVideo:
		return Video{FileID: env.FileID, Caption: env.Caption}, nil
	case KindBatch:
		batch := Batch{Items: make([]GroupMedia, 0, len(env.Media))}
		for _, sub := range env.Media {
			item, err := fromEnvelope(sub)
			if err != nil {
				return nil, err
			}
			gm, ok := item.(GroupMedia)
			if !ok {
				return nil, fmt.Errorf("%w: %s inside media group", ErrUnsupportedKind, sub.Type)
			}
			batch.Items = append(batch.Items, gm)
		}
		return batch, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, env.Type)
	}
}
