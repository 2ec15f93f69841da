package engine

import (
	"context"
	"strings"

	"notification-engine/internal/catalog"
)

// Directory answers group membership queries; the engine never enumerates
// users itself.
type Directory interface {
	GroupMembersBulk(ctx context.Context, groupIDs []string) ([]string, error)
}

// Recipients is the outcome of resolving a config's recipient specs against
// a flattened parameter map. Users includes expanded group members;
// duplicates are kept.
type Recipients struct {
	Emails []string
	Users  []string
	Groups []string
}

// Resolver turns recipient specs into concrete addresses and identifiers.
type Resolver struct {
	directory Directory
}

func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve applies the recipient policy: a spec whose recipient string matches
// a flattened key takes that key's value(s); a spec with no match contributes
// nothing, except kind email, whose recipient is kept as a literal address
// when it looks like one. Group values are expanded to member users and
// merged into Users.
func (r *Resolver) Resolve(ctx context.Context, specs []catalog.RecipientSpec, flat FlatParams) (*Recipients, error) {
	out := &Recipients{}

	for _, spec := range specs {
		value, found := flat[spec.Recipient]
		if !found {
			// Literal fallback is defined for email only.
			if spec.Kind == catalog.KindEmail && looksLikeEmail(spec.Recipient) {
				out.Emails = append(out.Emails, spec.Recipient)
			}
			continue
		}

		values := value.Tuple
		if !value.IsTuple() {
			values = []string{value.Scalar}
		}

		switch spec.Kind {
		case catalog.KindEmail:
			out.Emails = append(out.Emails, values...)
		case catalog.KindUser:
			out.Users = append(out.Users, values...)
		case catalog.KindGroup:
			out.Groups = append(out.Groups, values...)
		}
	}

	if len(out.Groups) > 0 {
		members, err := r.directory.GroupMembersBulk(ctx, out.Groups)
		if err != nil {
			return nil, err
		}
		out.Users = append(out.Users, members...)
	}

	return out, nil
}

// ResolveFiles resolves file specs with the same lookup policy as recipients:
// a spec matching a flattened key contributes that key's value(s); a spec
// with no match contributes nothing.
func ResolveFiles(specs []catalog.FileSpec, flat FlatParams) []string {
	var files []string
	for _, spec := range specs {
		value, found := flat[spec.File]
		if !found {
			continue
		}
		if value.IsTuple() {
			files = append(files, value.Tuple...)
		} else {
			files = append(files, value.Scalar)
		}
	}
	return files
}

// looksLikeEmail is a plain local@domain shape check.
func looksLikeEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return false
	}
	if len(parts[0]) == 0 || len(parts[1]) == 0 {
		return false
	}
	return strings.Contains(parts[1], ".")
}
