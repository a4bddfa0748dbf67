package model

import "time"

// Status はアカウントが投稿したコンテンツを表す。
type Status struct {
	ID          string
	PublisherID string
	CW          string
	Body        string
	Published   bool
	PublishedAt time.Time
}
