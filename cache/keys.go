package cache

import (
	"fmt"
	"net/url"
)

const (
	// ListPrefix is the namespace cleared whenever a post is created.
	ListPrefix = "cache:posts:list:"
	// DetailPrefix namespaces post detail snapshots.
	DetailPrefix = "cache:post:detail:"
)

// ListKey builds the key of a list snapshot. Free-form inputs are query-escaped,
// so ':' and '=' inside a search term cannot forge another key's layout.
func ListKey(search, authorID, sort string, page, pageSize int) string {
	return fmt.Sprintf("%sq=%s:author=%s:sort=%s:page=%d:size=%d",
		ListPrefix, url.QueryEscape(search), url.QueryEscape(authorID), url.QueryEscape(sort), page, pageSize)
}

// DetailKey builds the key of a post detail snapshot.
func DetailKey(postID string) string {
	return DetailPrefix + url.PathEscape(postID)
}
