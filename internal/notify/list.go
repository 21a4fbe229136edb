package notify

import (
	"slices"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/api"
)

// DefaultMaxItems bounds the in-memory notification list.
const DefaultMaxItems = 100

// list is a value type: every mutation returns a new list, so a previous
// value can be restored verbatim on rollback.
type list struct {
	items  []api.Notification
	unread int
}

func (l list) clone() list {
	return list{items: slices.Clone(l.items), unread: l.unread}
}

func (l list) index(id int64) int {
	return slices.IndexFunc(l.items, func(n api.Notification) bool { return n.ID == id })
}

// merge inserts incoming items newest-first, replacing any with the same id.
// It reports how many ids were not present before.
func (l list) merge(limit int, incoming ...api.Notification) (list, int) {
	out := l.clone()
	added := 0
	for _, n := range incoming {
		if i := out.index(n.ID); i >= 0 {
			out.items[i] = n
			continue
		}
		out.items = append([]api.Notification{n}, out.items...)
		added++
	}
	if limit > 0 && len(out.items) > limit {
		out.items = out.items[:limit]
	}
	out.unread = countUnread(out.items)
	return out, added
}

func (l list) markRead(id int64) (list, bool) {
	i := l.index(id)
	if i < 0 || l.items[i].IsRead {
		return l, false
	}
	out := l.clone()
	out.items[i].IsRead = true
	out.unread = countUnread(out.items)
	return out, true
}

func (l list) markAllRead() list {
	out := l.clone()
	for i := range out.items {
		out.items[i].IsRead = true
	}
	out.unread = 0
	return out
}

func (l list) remove(id int64) (list, bool) {
	i := l.index(id)
	if i < 0 {
		return l, false
	}
	out := l.clone()
	out.items = slices.Delete(out.items, i, i+1)
	out.unread = countUnread(out.items)
	return out, true
}

func countUnread(items []api.Notification) int {
	n := 0
	for _, it := range items {
		if !it.IsRead {
			n++
		}
	}
	return n
}
