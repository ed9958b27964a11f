package model

import (
	"errors"
	"time"
)

var (
	// ErrIDAlreadySet is returned when With tries to overwrite an assigned id.
	// This is a caller bug, not a recoverable condition.
	ErrIDAlreadySet = errors.New("message id is write-once and already assigned")
)

// Message is one SMS send attempt. It is a value object: every change goes
// through With, which returns a fresh copy and leaves the receiver untouched.
// The id is assigned exactly once, by the persistence layer.
type Message struct {
	ID              int64         `json:"id"`
	Recipient       string        `json:"recipient"` // international format, e.g. +447123456789
	Content         *string       `json:"content"`
	Component       string        `json:"component"`
	MessageType     string        `json:"message_type"`
	RecipientUserID *int64        `json:"recipient_user_id,omitempty"`
	Sensitive       bool          `json:"sensitive"`
	Status          MessageStatus `json:"status"`
	Gateway         *int64        `json:"gateway,omitempty"` // gateway instance id that handled the message
	TimeCreated     int64         `json:"time_created"`      // epoch seconds
}

// MessageParams is the input for constructing a new Message.
type MessageParams struct {
	Recipient       string
	Content         *string
	Component       string
	MessageType     string
	RecipientUserID *int64
	Sensitive       bool
	TimeCreated     int64 // 0 means "now" per the caller's clock
}

func NewMessage(p MessageParams) *Message {
	t := p.TimeCreated
	if t == 0 {
		t = time.Now().Unix()
	}
	return &Message{
		Recipient:       p.Recipient,
		Content:         p.Content,
		Component:       p.Component,
		MessageType:     p.MessageType,
		RecipientUserID: p.RecipientUserID,
		Sensitive:       p.Sensitive,
		Status:          MessageStatusNotSent,
		TimeCreated:     t,
	}
}

// MessageUpdate is a partial update applied by Message.With. Nil fields are
// left unchanged. ClearContent removes the content regardless of Content.
type MessageUpdate struct {
	ID           *int64
	Status       *MessageStatus
	Gateway      *int64
	Content      *string
	ClearContent bool
}

// With returns a copy of the message with the update applied. The write-once
// id invariant is enforced here, in the single update path, so callers never
// need to re-check it.
func (m *Message) With(u MessageUpdate) (*Message, error) {
	out := *m
	if u.ID != nil {
		if m.ID != 0 {
			return nil, ErrIDAlreadySet
		}
		out.ID = *u.ID
	}
	if u.Status != nil {
		out.Status = *u.Status
	}
	if u.Gateway != nil {
		gw := *u.Gateway
		out.Gateway = &gw
	}
	if u.ClearContent {
		out.Content = nil
	} else if u.Content != nil {
		c := *u.Content
		out.Content = &c
	}
	return &out, nil
}

// MessageFilter controls Get/List/Iterate queries. All criteria are
// exact-match; nil fields are ignored.
type MessageFilter struct {
	ID        *int64
	Recipient *string
	Status    *MessageStatus
	Gateway   *int64
	Component *string
	Limit     int // default 50, List only
	Offset    int
	Desc      bool // order by id
}
