package router

import (
	"fmt"
	"html"

	"relaybot/internal/models"
)

// Classify turns one inbound message into a payload. It does not tag or escape.
func Classify(msg models.Inbound) (models.Payload, error) {
	switch {
	case msg.Text != "":
		return models.Text{Body: msg.Text}, nil
	case msg.PhotoID != "":
		return models.Photo{FileID: msg.PhotoID, Caption: msg.Caption}, nil
	case msg.AudioID != "":
		return models.Audio{FileID: msg.AudioID, Caption: msg.Caption}, nil
	case msg.AnimationID != "":
		return models.Animation{FileID: msg.AnimationID, Caption: msg.Caption}, nil
	case msg.VideoID != "":
		return models.Video{FileID: msg.VideoID, Caption: msg.Caption}, nil
	case msg.Other != "":
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedKind, msg.Other)
	default:
		return nil, models.ErrUnsupportedKind
	}
}

// Tag is the submitter signature appended to forwarded text and captions.
func Tag(from models.Sender) string {
	return "\n\n👤 <code>" + html.EscapeString(from.FullName) + "</code>"
}

// Tagged escapes the user-supplied text of p and appends the submitter tag.
// A media group is tagged through BuildBatch instead.
func Tagged(p models.Payload, from models.Sender) (models.Payload, error) {
	tag := Tag(from)
	switch v := p.(type) {
	case models.Text:
		return models.Text{Body: html.EscapeString(v.Body) + tag}, nil
	case models.Photo:
		return models.Photo{FileID: v.FileID, Caption: html.EscapeString(v.Caption) + tag}, nil
	case models.Audio:
		return models.Audio{FileID: v.FileID, Caption: html.EscapeString(v.Caption) + tag}, nil
	case models.Animation:
		return models.Animation{FileID: v.FileID, Caption: html.EscapeString(v.Caption) + tag}, nil
	case models.Video:
		return models.Video{FileID: v.FileID, Caption: html.EscapeString(v.Caption) + tag}, nil
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnsupportedKind, p)
	}
}

// BuildBatch merges the items of one media group in arrival order. Items that
// cannot be part of a group are skipped and returned in skipped. The first kept
// item carries its escaped caption and the tag of the first item's sender;
// the rest go without captions.
func BuildBatch(items []models.Inbound) (batch models.Batch, submitter models.Sender, skipped []models.Inbound) {
	for _, item := range items {
		p, err := Classify(item)
		if err != nil {
			skipped = append(skipped, item)
			continue
		}
		media, ok := p.(models.GroupMedia)
		if !ok {
			skipped = append(skipped, item)
			continue
		}
		if len(batch.Items) == 0 {
			submitter = item.From
			media = withCaption(media, html.EscapeString(item.Caption)+Tag(item.From))
		} else {
			media = withCaption(media, "")
		}
		batch.Items = append(batch.Items, media)
	}
	return batch, submitter, skipped
}

func withCaption(m models.GroupMedia, caption string) models.GroupMedia {
	switch v := m.(type) {
	case models.Photo:
		v.Caption = caption
		return v
	case models.Audio:
		v.Caption = caption
		return v
	case models.Video:
		v.Caption = caption
		return v
	}
	return m
}
