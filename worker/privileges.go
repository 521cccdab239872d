package worker

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// poolSpec is the parsed form of "<pool-name>[:user[:group]]".
type poolSpec struct {
	pool, user, group string
}

func parsePoolSpec(raw string) (poolSpec, error) {
	if raw == "" {
		return poolSpec{}, fmt.Errorf("empty pool spec")
	}
	parts := strings.SplitN(raw, ":", 3)
	spec := poolSpec{pool: parts[0]}
	if len(parts) >= 2 {
		spec.user = parts[1]
	}
	if len(parts) == 3 {
		spec.group = parts[2]
	}
	return spec, nil
}

// dropPrivileges resolves userSpec/groupSpec (numeric or by name) and
// applies supplementary groups, then gid, then uid, in that order (spec.md
// §4.B step 3). Numeric values must round-trip through the name lookup to
// be accepted, matching the source's validation.
func dropPrivileges(userSpec, groupSpec string) error {
	u, err := resolveUser(userSpec)
	if err != nil {
		return fmt.Errorf("resolve user %q: %w", userSpec, err)
	}

	gid := u.gid
	if groupSpec != "" {
		g, err := resolveGroup(groupSpec)
		if err != nil {
			return fmt.Errorf("resolve group %q: %w", groupSpec, err)
		}
		gid = g
	}

	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(u.uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", u.uid, err)
	}
	return nil
}

type resolvedUser struct {
	uid, gid int
}

func resolveUser(spec string) (resolvedUser, error) {
	if uid, err := strconv.Atoi(spec); err == nil {
		// Numeric uid must round-trip through the name lookup.
		u, err := user.LookupId(strconv.Itoa(uid))
		if err != nil {
			return resolvedUser{}, fmt.Errorf("numeric uid %d does not resolve to a user: %w", uid, err)
		}
		gid, _ := strconv.Atoi(u.Gid)
		return resolvedUser{uid: uid, gid: gid}, nil
	}
	u, err := user.Lookup(spec)
	if err != nil {
		return resolvedUser{}, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return resolvedUser{}, fmt.Errorf("non-numeric uid %q for user %q", u.Uid, spec)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return resolvedUser{}, fmt.Errorf("non-numeric gid %q for user %q", u.Gid, spec)
	}
	return resolvedUser{uid: uid, gid: gid}, nil
}

func resolveGroup(spec string) (int, error) {
	if gid, err := strconv.Atoi(spec); err == nil {
		g, err := user.LookupGroupId(strconv.Itoa(gid))
		if err != nil {
			return 0, fmt.Errorf("numeric gid %d does not resolve to a group: %w", gid, err)
		}
		resolved, _ := strconv.Atoi(g.Gid)
		return resolved, nil
	}
	g, err := user.LookupGroup(spec)
	if err != nil {
		return 0, err
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("non-numeric gid %q for group %q", g.Gid, spec)
	}
	return gid, nil
}
