package sqlitegraph

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"proofmesh/internal/gdb"
	"proofmesh/internal/index"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// liveClause builds the live-interval condition for a query at a major.
// WIP queries match only WIP rows; numbered queries match rows whose
// interval [major, cut) covers the requested major.
func liveClause(major string) (string, []interface{}) {
	if major == version.WIPMajor {
		return "major = 'WIP'", nil
	}
	m := majorNum(major)
	return "major_num <= ? AND cut_num > ?", []interface{}{m, m}
}

// GetVersionsIndexed returns the ordered indexed versions of a repo.
func (s *Store) GetVersionsIndexed(repopath string, includeWIP bool) ([]gdb.VersionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT version, commit_hash FROM versions WHERE repopath = ? ORDER BY padded ASC`,
		repopath,
	)
	if err != nil {
		return nil, perr.Wrap(perr.DBError, err, "failed to list versions of %s", repopath)
	}
	defer rows.Close()
	var out []gdb.VersionInfo
	var wip *gdb.VersionInfo
	for rows.Next() {
		var vs string
		var hash sql.NullString
		if err := rows.Scan(&vs, &hash); err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to scan version row")
		}
		v, err := version.Parse(vs)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping malformed version %q for %s", vs, repopath)
			continue
		}
		info := gdb.VersionInfo{Version: v, CommitHash: hash.String}
		if v.IsWIP {
			wip = &info
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version.Compare(out[j].Version) < 0
	})
	if includeWIP && wip != nil {
		out = append(out, *wip)
	}
	return out, nil
}

// VersionIsAlreadyIndexed reports whether a version has been indexed.
func (s *Store) VersionIsAlreadyIndexed(repopath string, v version.Version) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM versions WHERE repopath = ? AND version = ?`,
		repopath, v.String(),
	).Scan(&n)
	if err != nil {
		return false, perr.Wrap(perr.DBError, err, "failed to check version %s of %s", v, repopath)
	}
	return n > 0, nil
}

// GetExistingObjects returns the kNodes and kRelns under a modpath whose
// live interval covers the major. modpath filters exactly, or as a prefix
// when recursive.
func (s *Store) GetExistingObjects(modpath string, major string, recursive bool) ([]*index.KNode, []*index.KReln, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live, liveArgs := liveClause(major)
	modCond := "modpath = ?"
	modArgs := []interface{}{modpath}
	if recursive {
		modCond = "(modpath = ? OR modpath LIKE ?)"
		modArgs = append(modArgs, modpath+".%")
	}

	nodeQuery := fmt.Sprintf(
		`SELECT label, libpath, major, COALESCE(cut, ''), modpath, repopath, origin
		 FROM knodes WHERE %s AND %s`, modCond, live)
	args := append(append([]interface{}{}, modArgs...), liveArgs...)
	rows, err := s.db.Query(nodeQuery, args...)
	if err != nil {
		return nil, nil, perr.Wrap(perr.DBError, err, "failed to load kNodes under %s", modpath)
	}
	var nodes []*index.KNode
	for rows.Next() {
		n := &index.KNode{}
		var label string
		if err := rows.Scan(&label, &n.Libpath, &n.Major, &n.Cut, &n.Modpath, &n.Repopath, &n.Origin); err != nil {
			rows.Close()
			return nil, nil, perr.Wrap(perr.DBError, err, "failed to scan kNode row")
		}
		n.Label = index.Label(label)
		nodes = append(nodes, n)
	}
	rows.Close()

	relnQuery := fmt.Sprintf(
		`SELECT reln_type, tail_libpath, head_libpath, tail_major, head_major,
		        major, COALESCE(cut, ''), modpath, repopath, segment, taken_at
		 FROM krelns WHERE %s AND %s`, modCond, live)
	rows, err = s.db.Query(relnQuery, args...)
	if err != nil {
		return nil, nil, perr.Wrap(perr.DBError, err, "failed to load kRelns under %s", modpath)
	}
	defer rows.Close()
	var relns []*index.KReln
	for rows.Next() {
		r := &index.KReln{}
		var relnType string
		if err := rows.Scan(&relnType, &r.TailLibpath, &r.HeadLibpath, &r.TailMajor, &r.HeadMajor,
			&r.Major, &r.Cut, &r.Modpath, &r.Repopath, &r.Segment, &r.TakenAt); err != nil {
			return nil, nil, perr.Wrap(perr.DBError, err, "failed to scan kReln row")
		}
		r.Type = index.RelnType(relnType)
		relns = append(relns, r)
	}
	return nodes, relns, nil
}

// AllLibpathsUnderRepo returns every libpath indexed under a repo at a major.
func (s *Store) AllLibpathsUnderRepo(repopath string, major string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	query := fmt.Sprintf(
		`SELECT DISTINCT libpath FROM knodes WHERE repopath = ? AND %s`, live)
	rows, err := s.db.Query(query, append([]interface{}{repopath}, liveArgs...)...)
	if err != nil {
		return nil, perr.Wrap(perr.DBError, err, "failed to list libpaths under %s", repopath)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var lp string
		if err := rows.Scan(&lp); err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to scan libpath row")
		}
		out = append(out, lp)
	}
	sort.Strings(out)
	return out, nil
}

// FindMoveConjugate walks UNDER ancestry up from a libpath looking for an
// outgoing MOVE recorded after the given major, then forms the conjugate
// path back down. Returns nil when the entity did not move. The walk visits
// at most depth(libpath)+1 prefixes and follows one MOVE edge.
func (s *Store) FindMoveConjugate(libpath string, major string) (*gdb.MoveConjugate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, perr.Wrap(perr.DBError, err, "failed to begin read transaction")
	}
	defer tx.Rollback()
	dst, dstMajor, found, err := findMoveTx(tx, libpath, major)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if dst == index.VoidLibpath {
		return &gdb.MoveConjugate{Deleted: true}, nil
	}
	return &gdb.MoveConjugate{Libpath: dst, Major: dstMajor}, nil
}

// GetAncestorChain returns the chain of deductions from the root down to the
// given deduction, following EXPANDS edges.
func (s *Store) GetAncestorChain(deducpath string, major string) ([]gdb.AncestorLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	var chain []gdb.AncestorLink
	cur := deducpath
	for hops := 0; hops < 64; hops++ {
		var curCut string
		var curMajor string
		query := fmt.Sprintf(
			`SELECT major, COALESCE(cut, '') FROM knodes WHERE libpath = ? AND label = ? AND %s`, live)
		err := s.db.QueryRow(query,
			append([]interface{}{cur, string(index.LabelDeduc)}, liveArgs...)...,
		).Scan(&curMajor, &curCut)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to load deduc %s", cur)
		}
		chain = append(chain, gdb.AncestorLink{Libpath: cur, Major: curMajor, Cut: curCut})

		query = fmt.Sprintf(
			`SELECT head_libpath FROM krelns
			 WHERE reln_type = ? AND tail_libpath = ? AND %s`, live)
		var next string
		err = s.db.QueryRow(query,
			append([]interface{}{string(index.RelnExpands), cur}, liveArgs...)...,
		).Scan(&next)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to follow EXPANDS from %s", cur)
		}
		cur = next
	}
	// Root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// GetDeductiveNbrs returns the IMPLIES neighbours of the given nodes.
func (s *Store) GetDeductiveNbrs(libpaths []string, major string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	seen := map[string]bool{}
	var out []string
	for _, lp := range libpaths {
		query := fmt.Sprintf(
			`SELECT tail_libpath, head_libpath FROM krelns
			 WHERE reln_type = ? AND (tail_libpath = ? OR head_libpath = ?) AND %s`, live)
		rows, err := s.db.Query(query,
			append([]interface{}{string(index.RelnImplies), lp, lp}, liveArgs...)...)
		if err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to load IMPLIES nbrs of %s", lp)
		}
		for rows.Next() {
			var tail, head string
			if err := rows.Scan(&tail, &head); err != nil {
				rows.Close()
				return nil, perr.Wrap(perr.DBError, err, "failed to scan IMPLIES row")
			}
			for _, nbr := range []string{tail, head} {
				if nbr != lp && !seen[nbr] {
					seen[nbr] = true
					out = append(out, nbr)
				}
			}
		}
		rows.Close()
	}
	sort.Strings(out)
	return out, nil
}

// GetDeductionClosure returns the given deducs together with every ancestor
// reached along EXPANDS chains.
func (s *Store) GetDeductionClosure(deducpaths []string, major string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, dp := range deducpaths {
		chain, err := s.GetAncestorChain(dp, major)
		if err != nil {
			return nil, err
		}
		for _, link := range chain {
			if !seen[link.Libpath] {
				seen[link.Libpath] = true
				out = append(out, link.Libpath)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) hasLabel(libpath, major string, label index.Label) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM knodes WHERE libpath = ? AND label = ? AND %s`, live)
	var n int
	err := s.db.QueryRow(query,
		append([]interface{}{libpath, string(label)}, liveArgs...)...,
	).Scan(&n)
	if err != nil {
		return false, perr.Wrap(perr.DBError, err, "failed to classify %s", libpath)
	}
	return n > 0, nil
}

// IsDeduc reports whether a libpath names a deduction at a major.
func (s *Store) IsDeduc(libpath string, major string) (bool, error) {
	return s.hasLabel(libpath, major, index.LabelDeduc)
}

// IsAnno reports whether a libpath names an annotation at a major.
func (s *Store) IsAnno(libpath string, major string) (bool, error) {
	return s.hasLabel(libpath, major, index.LabelAnno)
}

// GetResultsReliedUponBy returns the deducs the given deduction relies upon:
// the deducs containing the heads of its TARGETS edges, recursively.
func (s *Store) GetResultsReliedUponBy(deducpath string, major string) ([]string, error) {
	return s.targetsClosure(deducpath, major, true)
}

// GetResultsRelyingUpon returns the deducs whose TARGETS edges point into
// the given deduction or its contents, recursively.
func (s *Store) GetResultsRelyingUpon(deducpath string, major string) ([]string, error) {
	return s.targetsClosure(deducpath, major, false)
}

// targetsClosure walks TARGETS edges transitively. In the upward direction
// (relied upon by), each deduc's targets live in some other deduc; in the
// downward direction, other deducs target this one's contents.
func (s *Store) targetsClosure(deducpath string, major string, upward bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	seen := map[string]bool{}
	var out []string
	frontier := []string{deducpath}
	for len(frontier) > 0 && len(seen) < 4096 {
		cur := frontier[0]
		frontier = frontier[1:]
		var query string
		if upward {
			query = fmt.Sprintf(
				`SELECT DISTINCT head_libpath FROM krelns
				 WHERE reln_type = ? AND (tail_libpath = ? OR tail_libpath LIKE ?) AND %s`, live)
		} else {
			query = fmt.Sprintf(
				`SELECT DISTINCT tail_libpath FROM krelns
				 WHERE reln_type = ? AND (head_libpath = ? OR head_libpath LIKE ?) AND %s`, live)
		}
		rows, err := s.db.Query(query,
			append([]interface{}{string(index.RelnTargets), cur, cur + ".%"}, liveArgs...)...)
		if err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to walk TARGETS from %s", cur)
		}
		var found []string
		for rows.Next() {
			var lp string
			if err := rows.Scan(&lp); err != nil {
				rows.Close()
				return nil, perr.Wrap(perr.DBError, err, "failed to scan TARGETS row")
			}
			found = append(found, lp)
		}
		rows.Close()
		for _, lp := range found {
			// Resolve to the containing deduction.
			deduc, err := s.deducContainingLocked(lp, major)
			if err != nil {
				return nil, err
			}
			if deduc == "" || deduc == deducpath || seen[deduc] {
				continue
			}
			seen[deduc] = true
			out = append(out, deduc)
			frontier = append(frontier, deduc)
		}
	}
	sort.Strings(out)
	return out, nil
}

// deducContainingLocked finds the deduction kNode at or above a libpath.
// Caller holds at least a read lock.
func (s *Store) deducContainingLocked(libpath, major string) (string, error) {
	live, liveArgs := liveClause(major)
	segs := strings.Split(libpath, ".")
	for i := len(segs); i >= 1; i-- {
		prefix := strings.Join(segs[:i], ".")
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM knodes WHERE libpath = ? AND label = ? AND %s`, live)
		var n int
		if err := s.db.QueryRow(query,
			append([]interface{}{prefix, string(index.LabelDeduc)}, liveArgs...)...,
		).Scan(&n); err != nil {
			return "", perr.Wrap(perr.DBError, err, "failed to classify %s", prefix)
		}
		if n > 0 {
			return prefix, nil
		}
	}
	return "", nil
}

// GetEnrichment returns everything targeting the given libpath or its
// descendants at a major, grouped by target path and enrichment kind.
func (s *Store) GetEnrichment(libpath string, major string) (gdb.Enrichment, error) {
	s.mu.RLock()
	live, liveArgs := liveClause(major)
	query := fmt.Sprintf(
		`SELECT reln_type, tail_libpath, head_libpath FROM krelns
		 WHERE reln_type IN (?, ?) AND (head_libpath = ? OR head_libpath LIKE ?) AND %s`, live)
	rows, err := s.db.Query(query,
		append([]interface{}{
			string(index.RelnTargets), string(index.RelnRetargets),
			libpath, libpath + ".%",
		}, liveArgs...)...)
	if err != nil {
		s.mu.RUnlock()
		return nil, perr.Wrap(perr.DBError, err, "failed to load enrichments on %s", libpath)
	}
	type hit struct {
		tail, head string
		retargeted bool
	}
	var hits []hit
	for rows.Next() {
		var relnType, tail, head string
		if err := rows.Scan(&relnType, &tail, &head); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, perr.Wrap(perr.DBError, err, "failed to scan enrichment row")
		}
		hits = append(hits, hit{tail, head, relnType == string(index.RelnRetargets)})
	}
	rows.Close()
	s.mu.RUnlock()

	enrichment := gdb.Enrichment{}
	for _, h := range hits {
		// Only report targets that are themselves live at the requested
		// major; a TARGETS edge may outlive its original head after a move.
		headLive, err := s.libpathIsLive(h.head, major)
		if err != nil {
			return nil, err
		}
		if !headLive {
			continue
		}
		isDeduc, err := s.IsDeduc(h.tail, major)
		if err != nil {
			return nil, err
		}
		kind := "Anno"
		if isDeduc {
			kind = "Deduc"
		} else {
			isAnno, err := s.IsAnno(h.tail, major)
			if err != nil {
				return nil, err
			}
			if !isAnno {
				// A tail that is neither a deduc nor an anno live at this
				// major is not reported.
				continue
			}
		}
		repopath := repopathOf(h.tail)
		versions, err := s.GetVersionsIndexed(repopath, false)
		if err != nil {
			return nil, err
		}
		var versStrings []string
		for _, v := range versions {
			versStrings = append(versStrings, v.Version.String())
		}
		if enrichment[h.head] == nil {
			enrichment[h.head] = map[string][]gdb.EnrichmentInfo{}
		}
		enrichment[h.head][kind] = append(enrichment[h.head][kind], gdb.EnrichmentInfo{
			Libpath:    h.tail,
			Repopath:   repopath,
			Versions:   versStrings,
			Retargeted: h.retargeted,
		})
	}
	return enrichment, nil
}

// libpathIsLive reports whether any kNode with the given libpath is live at
// the major.
func (s *Store) libpathIsLive(libpath, major string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM knodes WHERE libpath = ? AND %s`, live)
	var n int
	if err := s.db.QueryRow(query, append([]interface{}{libpath}, liveArgs...)...).Scan(&n); err != nil {
		return false, perr.Wrap(perr.DBError, err, "failed to check liveness of %s", libpath)
	}
	return n > 0, nil
}

func repopathOf(libpath string) string {
	segs := strings.Split(libpath, ".")
	if len(segs) < 3 {
		return libpath
	}
	return strings.Join(segs[:3], ".")
}

// GetOrigins resolves origins for the given libpaths at a major.
func (s *Store) GetOrigins(libpathsByLabel map[index.Label][]string, major string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, liveArgs := liveClause(major)
	out := map[string]string{}
	for label, libpaths := range libpathsByLabel {
		for _, lp := range libpaths {
			query := fmt.Sprintf(
				`SELECT origin FROM knodes WHERE libpath = ? AND label = ? AND %s`, live)
			var origin string
			err := s.db.QueryRow(query,
				append([]interface{}{lp, string(label)}, liveArgs...)...,
			).Scan(&origin)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return nil, perr.Wrap(perr.DBError, err, "failed to load origin of %s", lp)
			}
			if origin != "" {
				out[lp] = origin
			}
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------
// Users and notes

// LoadUser returns a user, or nil when absent.
func (s *Store) LoadUser(username string) (*gdb.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var j string
	err := s.db.QueryRow(
		`SELECT props FROM users WHERE username = ?`, username,
	).Scan(&j)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, perr.Wrap(perr.DBError, err, "failed to load user %s", username)
	}
	props := map[string]interface{}{}
	if err := json.Unmarshal([]byte(j), &props); err != nil {
		return nil, fmt.Errorf("failed to parse props of user %s: %w", username, err)
	}
	return &gdb.User{Username: username, Props: props}, nil
}

// LoadUserNotes returns notes for the given goal origins; nil origins loads
// all of the user's notes.
func (s *Store) LoadUserNotes(username string, origins []string) ([]gdb.UserNotes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows *sql.Rows
	var err error
	if origins == nil {
		rows, err = s.db.Query(
			`SELECT origin, goal_libpath, state, COALESCE(notes, '')
			 FROM notes WHERE username = ? ORDER BY origin`, username)
	} else {
		if len(origins) == 0 {
			return nil, nil
		}
		placeholders := strings.Repeat("?,", len(origins))
		placeholders = placeholders[:len(placeholders)-1]
		args := []interface{}{username}
		for _, o := range origins {
			args = append(args, o)
		}
		rows, err = s.db.Query(
			`SELECT origin, goal_libpath, state, COALESCE(notes, '')
			 FROM notes WHERE username = ? AND origin IN (`+placeholders+`) ORDER BY origin`, args...)
	}
	if err != nil {
		return nil, perr.Wrap(perr.DBError, err, "failed to load notes of %s", username)
	}
	defer rows.Close()
	var out []gdb.UserNotes
	for rows.Next() {
		var un gdb.UserNotes
		if err := rows.Scan(&un.Origin, &un.Goal, &un.State, &un.Notes); err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to scan notes row")
		}
		out = append(out, un)
	}
	return out, nil
}

// loadNotesUnder loads the user's notes on goals under a libpath prefix at a
// major, resolving through origins of the entities currently there.
func (s *Store) loadNotesUnder(username, libpath, major string) ([]gdb.UserNotes, error) {
	s.mu.RLock()
	live, liveArgs := liveClause(major)
	query := fmt.Sprintf(
		`SELECT DISTINCT origin FROM knodes
		 WHERE (libpath = ? OR libpath LIKE ?) AND origin != '' AND %s`, live)
	rows, err := s.db.Query(query,
		append([]interface{}{libpath, libpath + ".%"}, liveArgs...)...)
	if err != nil {
		s.mu.RUnlock()
		return nil, perr.Wrap(perr.DBError, err, "failed to load origins under %s", libpath)
	}
	var origins []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, perr.Wrap(perr.DBError, err, "failed to scan origin row")
		}
		origins = append(origins, o)
	}
	rows.Close()
	s.mu.RUnlock()
	if len(origins) == 0 {
		return nil, nil
	}
	return s.LoadUserNotes(username, origins)
}

// LoadUserNotesOnDeduc loads a user's notes on goals under a deduction.
func (s *Store) LoadUserNotesOnDeduc(username, deducpath, major string) ([]gdb.UserNotes, error) {
	return s.loadNotesUnder(username, deducpath, major)
}

// LoadUserNotesOnAnno loads a user's notes on goals under an annotation.
func (s *Store) LoadUserNotesOnAnno(username, annopath, major string) ([]gdb.UserNotes, error) {
	return s.loadNotesUnder(username, annopath, major)
}

// LoadUserNotesOnModule loads a user's notes on goals under a module.
func (s *Store) LoadUserNotesOnModule(username, modpath, major string) ([]gdb.UserNotes, error) {
	return s.loadNotesUnder(username, modpath, major)
}

// CheckApproval reports a widget's display approval at a full version.
func (s *Store) CheckApproval(widgetpath, fullVersion string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var j string
	err := s.db.QueryRow(
		`SELECT approvals_json FROM approvals WHERE widgetpath = ? AND version = ?`,
		widgetpath, fullVersion,
	).Scan(&j)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, perr.Wrap(perr.DBError, err, "failed to load approvals of %s", widgetpath)
	}
	approvals := map[string]bool{}
	if err := json.Unmarshal([]byte(j), &approvals); err != nil {
		return false, fmt.Errorf("failed to parse approvals of %s: %w", widgetpath, err)
	}
	return approvals[fullVersion], nil
}

// ----------------------------------------------------------------------
// Artifact readback

func (s *Store) loadArtifact(kind, libpath, fullVersion string) ([]byte, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var content, extra []byte
	err := s.db.QueryRow(
		`SELECT content, COALESCE(extra, X'') FROM artifacts WHERE kind = ? AND libpath = ? AND version = ?`,
		kind, libpath, fullVersion,
	).Scan(&content, &extra)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, perr.Wrap(perr.DBError, err, "failed to load %s of %s@%s", kind, libpath, fullVersion)
	}
	return content, extra, nil
}

// LoadDashgraph returns the dashgraph JSON recorded for a deduc.
func (s *Store) LoadDashgraph(deducpath, fullVersion string) ([]byte, error) {
	content, _, err := s.loadArtifact(string(index.LabelDeducBuild), deducpath, fullVersion)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, perr.New(perr.MissingDashgraph,
			"no dashgraph recorded for %s@%s", deducpath, fullVersion)
	}
	return content, nil
}

// LoadAnnotation returns the HTML and widget JSON recorded for an anno.
func (s *Store) LoadAnnotation(annopath, fullVersion string) ([]byte, []byte, error) {
	html, data, err := s.loadArtifact(string(index.LabelAnnoBuild), annopath, fullVersion)
	if err != nil {
		return nil, nil, err
	}
	if html == nil {
		return nil, nil, perr.New(perr.MissingAnnotation,
			"no annotation build recorded for %s@%s", annopath, fullVersion)
	}
	return html, data, nil
}

// LoadModuleSource returns the source text recorded for a module.
func (s *Store) LoadModuleSource(modpath, fullVersion string) ([]byte, error) {
	content, _, err := s.loadArtifact(string(index.LabelModSrc), modpath, fullVersion)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, perr.New(perr.MissingModuleSource,
			"no source recorded for %s@%s", modpath, fullVersion)
	}
	return content, nil
}

// LoadRepoManifest returns the manifest JSON recorded for a repo.
func (s *Store) LoadRepoManifest(repopath, fullVersion string) ([]byte, error) {
	content, _, err := s.loadArtifact("MANIFEST", repopath, fullVersion)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, perr.New(perr.MissingManifest,
			"no manifest recorded for %s@%s", repopath, fullVersion)
	}
	return content, nil
}
