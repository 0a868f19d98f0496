package dwn

import (
	"maps"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// recordsFilter translates a records query filter to store criteria over
// the latest state of each record.
func recordsFilter(f *message.Filter) store.Filter {
	sf := store.Filter{
		message.IndexInterface:         store.Eq(string(message.InterfaceRecords)),
		message.IndexMethod:            store.Eq(string(message.MethodWrite)),
		message.IndexIsLatestBaseState: store.Eq(true),
	}
	if f == nil {
		return sf
	}
	put := func(key, value string) {
		if value != "" {
			sf[key] = store.Eq(value)
		}
	}
	put(message.IndexProtocol, message.NormalizeURL(f.Protocol))
	put(message.IndexProtocolPath, f.ProtocolPath)
	put(message.IndexSchema, message.NormalizeURL(f.Schema))
	put(message.IndexRecordID, f.RecordID)
	put(message.IndexParentID, f.ParentID)
	put(message.IndexContextID, f.ContextID)
	put(message.IndexRecipient, f.Recipient)
	put(message.IndexAuthor, f.Author)
	put(message.IndexDataFormat, f.DataFormat)
	if f.Published != nil {
		sf[message.IndexPublished] = store.Eq(*f.Published)
	}
	return sf
}

// visibleTo narrows base to what a non-owner may see: published records,
// records they authored and non-protocol records they received. actor may
// be "" for anonymous callers.
func visibleTo(base store.Filter, actor string) []store.Filter {
	var out []store.Filter
	add := func(extra store.Filter) {
		if f := narrow(base, extra); f != nil {
			out = append(out, f)
		}
	}
	add(store.Filter{message.IndexPublished: store.Eq(true)})
	if actor != "" {
		add(store.Filter{message.IndexAuthor: store.Eq(actor)})
		add(store.Filter{
			message.IndexRecipient: store.Eq(actor),
			message.IndexProtocol:  store.Eq(""),
		})
	}
	return out
}

// narrow returns base with extra added, or nil when extra contradicts an
// equality base already holds.
func narrow(base, extra store.Filter) store.Filter {
	f := maps.Clone(base)
	for key, c := range extra {
		if existing, ok := f[key]; ok && existing.Equal != c.Equal {
			return nil
		}
		f[key] = c
	}
	return f
}

// eventsFilter translates a Messages/Records subscription filter to criteria
// over the event log. Records filters also match the deletes of a record.
func eventsFilter(f *message.Filter) store.Filter {
	sf := store.Filter{}
	if f == nil {
		return sf
	}
	put := func(key, value string) {
		if value != "" {
			sf[key] = store.Eq(value)
		}
	}
	put(message.IndexInterface, string(f.Interface))
	put(message.IndexMethod, string(f.Method))
	put(message.IndexProtocol, message.NormalizeURL(f.Protocol))
	put(message.IndexProtocolPath, f.ProtocolPath)
	put(message.IndexSchema, message.NormalizeURL(f.Schema))
	put(message.IndexRecordID, f.RecordID)
	put(message.IndexParentID, f.ParentID)
	put(message.IndexContextID, f.ContextID)
	put(message.IndexRecipient, f.Recipient)
	put(message.IndexAuthor, f.Author)
	put(message.IndexDataFormat, f.DataFormat)
	if f.Published != nil {
		sf[message.IndexPublished] = store.Eq(*f.Published)
	}
	return sf
}
