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

// majorNum maps a stored major string to its numeric form, with WIP mapped
// above every numbered major.
func majorNum(major string) int {
	n, err := version.MajorOf(major)
	if err != nil {
		return 0
	}
	return n
}

// cutNum maps a stored cut to numeric form; an empty cut is open.
func cutNum(cut string) int {
	if cut == "" {
		return version.Infinity
	}
	return majorNum(cut)
}

// IndexModule performs the atomic transition of the index from pre-build to
// post-build state. All phases commit in one transaction or roll back
// together.
func (s *Store) IndexModule(mii *index.ModuleIndexInfo) error {
	timer := logging.StartTimer(logging.CategoryIndex, "IndexModule")
	defer timer.Stop()

	if !mii.IsWIP() {
		// When indexing a numbered release the operation relies heavily on
		// the assumption that the version has not yet been indexed.
		already, err := s.VersionIsAlreadyIndexed(mii.Repopath, mii.Version)
		if err != nil {
			return err
		}
		if already {
			return perr.New(perr.AttemptedReleaseReindex,
				"Release `%s` of repo `%s` has already been indexed.",
				mii.Version, mii.Repopath)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return perr.Wrap(perr.DBError, err, "failed to begin index transaction")
	}
	if err := s.runIndexPhases(tx, mii); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Get(logging.CategoryIndex).Error("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to commit index transaction")
	}
	logging.Index("Indexed %s@%s: +%dV +%dE -%dV -%dE",
		mii.Repopath, mii.Version, len(mii.VAdd), len(mii.EAdd), len(mii.VCut), len(mii.ECut))
	return nil
}

func (s *Store) runIndexPhases(tx *sql.Tx, mii *index.ModuleIndexInfo) error {
	if err := s.ix0100(tx, mii); err != nil {
		return err
	}
	newTargeting, err := s.ix0200(tx, mii)
	if err != nil {
		return err
	}
	if err := s.ix0330(tx, mii); err != nil {
		return err
	}
	if err := s.ix0360(tx, mii, newTargeting); err != nil {
		return err
	}
	return s.ix0400(tx, mii)
}

// ix0100 clears existing WIP indexing, if any. WIP indexing is done in
// ISOLATED mode, so dropping the nodes and relns under the touched modules
// is enough.
func (s *Store) ix0100(tx *sql.Tx, mii *index.ModuleIndexInfo) error {
	if !mii.IsWIP() {
		return nil
	}
	mii.Publish(110, 0, 0, "clearing WIP indexing")
	for _, modpath := range mii.AllModpathsWithChanges() {
		if _, err := tx.Exec(
			`DELETE FROM knodes WHERE modpath = ? AND major = ?`,
			modpath, version.WIPMajor,
		); err != nil {
			return perr.Wrap(perr.DBError, err, "failed to clear WIP nodes under %s", modpath)
		}
		if _, err := tx.Exec(
			`DELETE FROM krelns WHERE modpath = ? AND major = ?`,
			modpath, version.WIPMajor,
		); err != nil {
			return perr.Wrap(perr.DBError, err, "failed to clear WIP relns under %s", modpath)
		}
		mii.Publish(111, 0, 0, modpath)
	}
	return nil
}

// ix0200 applies V_cut and E_cut, then V_add and E_add. Returns the TARGETS
// relns added, for retargeting.
func (s *Store) ix0200(tx *sql.Tx, mii *index.ModuleIndexInfo) ([]*index.KReln, error) {
	mii.Publish(200, 0, len(mii.VCut)+len(mii.VAdd), "updating index entities")
	newMajor := mii.Major()
	newMajorN := majorNum(newMajor)

	for _, uid := range mii.VCut {
		label, libpath, ok := strings.Cut(uid, ":")
		if !ok {
			return nil, perr.New(perr.DBError, "malformed kNode uid %q", uid)
		}
		if _, err := tx.Exec(
			`UPDATE knodes SET cut = ?, cut_num = ?
			 WHERE label = ? AND libpath = ? AND cut IS NULL AND major_num < ?`,
			newMajor, newMajorN, label, libpath, newMajorN,
		); err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to cut kNode %s", uid)
		}
	}
	for _, uid := range mii.ECut {
		parts := strings.SplitN(uid, ":", 3)
		if len(parts) != 3 {
			return nil, perr.New(perr.DBError, "malformed kReln uid %q", uid)
		}
		if _, err := tx.Exec(
			`UPDATE krelns SET cut = ?, cut_num = ?
			 WHERE reln_type = ? AND tail_libpath = ? AND head_libpath = ?
			   AND cut IS NULL AND major_num < ?`,
			newMajor, newMajorN, parts[0], parts[1], parts[2], newMajorN,
		); err != nil {
			return nil, perr.Wrap(perr.DBError, err, "failed to cut kReln %s", uid)
		}
	}

	for _, n := range mii.VAdd {
		if err := insertKNode(tx, n); err != nil {
			return nil, err
		}
	}
	var newTargeting []*index.KReln
	for _, r := range mii.EAdd {
		if err := insertKReln(tx, r); err != nil {
			return nil, err
		}
		if r.Type == index.RelnTargets {
			newTargeting = append(newTargeting, r)
		}
	}
	return newTargeting, nil
}

func insertKNode(tx *sql.Tx, n *index.KNode) error {
	if _, err := tx.Exec(
		`INSERT INTO knodes (label, libpath, major, major_num, cut, cut_num, modpath, repopath, origin)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(n.Label), n.Libpath, n.Major, majorNum(n.Major),
		nullable(n.Cut), cutNum(n.Cut), n.Modpath, n.Repopath, n.Origin,
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to insert kNode %s", n)
	}
	return nil
}

func insertKReln(tx *sql.Tx, r *index.KReln) error {
	if _, err := tx.Exec(
		`INSERT INTO krelns (reln_type, tail_libpath, head_libpath, tail_major, head_major,
		                     major, major_num, cut, cut_num, modpath, repopath, segment, taken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Type), r.TailLibpath, r.HeadLibpath, r.TailMajor, r.HeadMajor,
		r.Major, majorNum(r.Major), nullable(r.Cut), cutNum(r.Cut),
		r.Modpath, r.Repopath, r.Segment, r.TakenAt,
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to insert kReln %s", r)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ix0330 records movements. Only the pairs explicitly noted in the move
// mapping are recorded; all the rest can be inferred from these (see
// FindMoveConjugate).
func (s *Store) ix0330(tx *sql.Tx, mii *index.ModuleIndexInfo) error {
	if len(mii.MoveMapping) == 0 {
		return nil
	}
	mii.Publish(330, 0, len(mii.MoveMapping), "recording moves")
	newMajor := mii.Major()
	newMajorN := majorNum(newMajor)
	if err := s.ensureVoid(tx); err != nil {
		return err
	}
	srcs := make([]string, 0, len(mii.MoveMapping))
	for src := range mii.MoveMapping {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)
	for _, src := range srcs {
		dst := mii.MoveMapping[src]
		// The MOVE edge leaves the most recent kNode of the source prior to
		// this release.
		var srcMajor string
		err := tx.QueryRow(
			`SELECT major FROM knodes
			 WHERE libpath = ? AND major != ? AND major_num < ?
			 ORDER BY major_num DESC LIMIT 1`,
			src, version.WIPMajor, newMajorN,
		).Scan(&srcMajor)
		if err == sql.ErrNoRows {
			return perr.New(perr.InvalidMoveMapping,
				"moved path %q was not indexed at any prior version", src)
		}
		if err != nil {
			return perr.Wrap(perr.DBError, err, "failed to find source of move %q", src)
		}
		head := dst
		headMajor := newMajor
		if dst == "" {
			head = index.VoidLibpath
		}
		if err := insertKReln(tx, &index.KReln{
			Type:        index.RelnMove,
			TailLibpath: src,
			HeadLibpath: head,
			TailMajor:   srcMajor,
			HeadMajor:   headMajor,
			Major:       newMajor,
			Repopath:    mii.Repopath,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ensureVoid creates the VOID singleton on first use.
func (s *Store) ensureVoid(tx *sql.Tx) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO knodes (label, libpath, major, major_num, cut, cut_num, modpath, repopath, origin)
		 VALUES (?, ?, '0', 0, NULL, ?, '', '', '')`,
		string(index.LabelVoid), index.VoidLibpath, version.Infinity,
	)
	if err != nil {
		return perr.Wrap(perr.DBError, err, "failed to ensure VOID node")
	}
	return nil
}

// ix0360 adds RETARGETS edges. Two sides:
//
// (a) For each new targeting edge added in this build, if its target has
// moved forward since the pinned major, add a RETARGETS edge to each
// successor in the move chain, with the same major/cut as the TARGETS edge.
//
// (b) For each entity moved in this build, find every existing TARGETS or
// RETARGETS edge pointing at it and add a new RETARGETS edge to the new
// location.
func (s *Store) ix0360(tx *sql.Tx, mii *index.ModuleIndexInfo, newTargeting []*index.KReln) error {
	// (a) New enrichments on targets that have since moved.
	for _, r := range newTargeting {
		cur := r.HeadLibpath
		curMajor := r.HeadMajor
		for hops := 0; hops < 64; hops++ {
			dst, dstMajor, found, err := findMoveTx(tx, cur, curMajor)
			if err != nil {
				return err
			}
			if !found || dst == index.VoidLibpath {
				break
			}
			if err := insertRetargetsIfAbsent(tx, &index.KReln{
				Type:        index.RelnRetargets,
				TailLibpath: r.TailLibpath,
				HeadLibpath: dst,
				TailMajor:   r.TailMajor,
				HeadMajor:   dstMajor,
				Major:       r.Major,
				Cut:         r.Cut,
				Modpath:     r.Modpath,
				Repopath:    r.Repopath,
			}); err != nil {
				return err
			}
			cur, curMajor = dst, dstMajor
		}
	}

	// (b) Existing enrichments on entities moved now. The closure covers
	// descendants of moved ancestors.
	newMajor := mii.Major()
	for src, dst := range mii.MMClosure {
		if dst == "" {
			continue
		}
		rows, err := tx.Query(
			`SELECT reln_type, tail_libpath, tail_major, major, cut, modpath, repopath
			 FROM krelns
			 WHERE head_libpath = ? AND reln_type IN (?, ?)`,
			src, string(index.RelnTargets), string(index.RelnRetargets),
		)
		if err != nil {
			return perr.Wrap(perr.DBError, err, "failed to find enrichments on %s", src)
		}
		type hit struct {
			tailLp, tailMajor, major, modpath, repopath string
			cut                                         sql.NullString
		}
		var hits []hit
		for rows.Next() {
			var h hit
			var relnType string
			if err := rows.Scan(&relnType, &h.tailLp, &h.tailMajor, &h.major, &h.cut, &h.modpath, &h.repopath); err != nil {
				rows.Close()
				return perr.Wrap(perr.DBError, err, "failed to scan enrichment row")
			}
			hits = append(hits, h)
		}
		rows.Close()
		for _, h := range hits {
			cut := ""
			if h.cut.Valid {
				cut = h.cut.String
			}
			if err := insertRetargetsIfAbsent(tx, &index.KReln{
				Type:        index.RelnRetargets,
				TailLibpath: h.tailLp,
				HeadLibpath: dst,
				TailMajor:   h.tailMajor,
				HeadMajor:   newMajor,
				Major:       h.major,
				Cut:         cut,
				Modpath:     h.modpath,
				Repopath:    h.repopath,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertRetargetsIfAbsent inserts a RETARGETS edge, ignoring duplicates
// (the same retarget can be discovered from both sides).
func insertRetargetsIfAbsent(tx *sql.Tx, r *index.KReln) error {
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO krelns (reln_type, tail_libpath, head_libpath, tail_major, head_major,
		                               major, major_num, cut, cut_num, modpath, repopath, segment, taken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '')`,
		string(r.Type), r.TailLibpath, r.HeadLibpath, r.TailMajor, r.HeadMajor,
		r.Major, majorNum(r.Major), nullable(r.Cut), cutNum(r.Cut), r.Modpath, r.Repopath,
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to insert RETARGETS edge")
	}
	return nil
}

// findMoveTx finds a MOVE edge leaving libpath after the given major,
// walking UNDER ancestry implicitly: an explicit MOVE on the path itself
// wins; otherwise ancestor moves are consulted and the conjugate path is
// formed.
func findMoveTx(tx *sql.Tx, libpath, major string) (string, string, bool, error) {
	m := majorNum(major)
	segs := strings.Split(libpath, ".")
	for i := len(segs); i >= 1; i-- {
		prefix := strings.Join(segs[:i], ".")
		var head, headMajor string
		err := tx.QueryRow(
			`SELECT head_libpath, head_major FROM krelns
			 WHERE reln_type = ? AND tail_libpath = ? AND CAST(head_major AS INTEGER) > ?
			 ORDER BY CAST(head_major AS INTEGER) ASC LIMIT 1`,
			string(index.RelnMove), prefix, m,
		).Scan(&head, &headMajor)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", "", false, perr.Wrap(perr.DBError, err, "failed to look up MOVE on %s", prefix)
		}
		if head == index.VoidLibpath {
			return index.VoidLibpath, headMajor, true, nil
		}
		remainder := strings.Join(segs[i:], ".")
		if remainder != "" {
			head = head + "." + remainder
		}
		return head, headMajor, true, nil
	}
	return "", "", false, nil
}

// ix0400 records the Version node: the fact that this repo:vers has been
// indexed.
func (s *Store) ix0400(tx *sql.Tx, mii *index.ModuleIndexInfo) error {
	mii.Publish(400, 0, 0, "recording version")
	if mii.IsWIP() {
		// A WIP build replaces the previous WIP record.
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO versions (repopath, version, padded, major, commit_hash)
			 VALUES (?, ?, ?, ?, ?)`,
			mii.Repopath, version.WIPTag, version.WIPTag, version.WIPMajor, mii.CommitHash,
		); err != nil {
			return perr.Wrap(perr.DBError, err, "failed to record WIP version")
		}
		return nil
	}
	if _, err := tx.Exec(
		`INSERT INTO versions (repopath, version, padded, major, commit_hash)
		 VALUES (?, ?, ?, ?, ?)`,
		mii.Repopath, mii.Version.String(), mii.Version.Padded(),
		mii.Version.MajorString(), mii.CommitHash,
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to record version")
	}
	return nil
}

// DeleteFullWipBuild deletes everything for a repo at WIP.
func (s *Store) DeleteFullWipBuild(repopath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return perr.Wrap(perr.DBError, err, "failed to begin transaction")
	}
	for _, stmt := range []string{
		`DELETE FROM knodes WHERE repopath = ? AND major = 'WIP'`,
		`DELETE FROM krelns WHERE repopath = ? AND major = 'WIP'`,
		`DELETE FROM versions WHERE repopath = ? AND version = 'WIP'`,
	} {
		if _, err := tx.Exec(stmt, repopath); err != nil {
			tx.Rollback()
			return perr.Wrap(perr.DBError, err, "failed to delete WIP build of %s", repopath)
		}
	}
	if _, err := tx.Exec(
		`DELETE FROM artifacts WHERE version = 'WIP' AND (libpath = ? OR libpath LIKE ?)`,
		repopath, repopath+".%",
	); err != nil {
		tx.Rollback()
		return perr.Wrap(perr.DBError, err, "failed to delete WIP artifacts of %s", repopath)
	}
	return tx.Commit()
}

// DeleteEverythingUnderRepo deletes all nodes and edges under a repopath, at
// all versions.
func (s *Store) DeleteEverythingUnderRepo(repopath string) error {
	// Checking for indexed versions first is faster than the blanket
	// deletion when nothing was ever indexed.
	infos, err := s.GetVersionsIndexed(repopath, true)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return perr.Wrap(perr.DBError, err, "failed to begin transaction")
	}
	prefix := repopath + ".%"
	for _, stmt := range []string{
		`DELETE FROM knodes WHERE repopath = ?`,
		`DELETE FROM krelns WHERE repopath = ?`,
		`DELETE FROM versions WHERE repopath = ?`,
	} {
		if _, err := tx.Exec(stmt, repopath); err != nil {
			tx.Rollback()
			return perr.Wrap(perr.DBError, err, "failed to delete repo %s", repopath)
		}
	}
	if _, err := tx.Exec(
		`DELETE FROM artifacts WHERE libpath = ? OR libpath LIKE ?`, repopath, prefix,
	); err != nil {
		tx.Rollback()
		return perr.Wrap(perr.DBError, err, "failed to delete artifacts of %s", repopath)
	}
	return tx.Commit()
}

// ----------------------------------------------------------------------
// Artifact persistence

func (s *Store) recordArtifact(kind, libpath, fullVersion, modpath string, content, extra []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (kind, libpath, version, modpath, content, extra)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		kind, libpath, fullVersion, modpath, content, extra,
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to record %s for %s@%s", kind, libpath, fullVersion)
	}
	return nil
}

// RecordModuleSource records the pfsc source compiled for a module at a
// version.
func (s *Store) RecordModuleSource(modpath, fullVersion string, text []byte) error {
	return s.recordArtifact(string(index.LabelModSrc), modpath, fullVersion, modpath, text, nil)
}

// RecordDashgraph records the dashgraph JSON for a deduc at a version.
func (s *Store) RecordDashgraph(deducpath, fullVersion string, dgJSON []byte) error {
	modpath := parentOf(deducpath)
	return s.recordArtifact(string(index.LabelDeducBuild), deducpath, fullVersion, modpath, dgJSON, nil)
}

// RecordAnnobuild records the HTML and widget JSON for an anno at a version.
func (s *Store) RecordAnnobuild(annopath, fullVersion string, html, dataJSON []byte) error {
	modpath := parentOf(annopath)
	return s.recordArtifact(string(index.LabelAnnoBuild), annopath, fullVersion, modpath, html, dataJSON)
}

// RecordRepoManifest records the manifest JSON for a repo at a version.
func (s *Store) RecordRepoManifest(repopath, fullVersion string, manifestJSON []byte) error {
	return s.recordArtifact("MANIFEST", repopath, fullVersion, repopath, manifestJSON, nil)
}

// DeleteBuildsUnderModule deletes all built products under a module at a
// version.
func (s *Store) DeleteBuildsUnderModule(modpath, fullVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`DELETE FROM artifacts WHERE version = ? AND (modpath = ? OR modpath LIKE ?)`,
		fullVersion, modpath, modpath+".%",
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to delete builds under %s@%s", modpath, fullVersion)
	}
	return nil
}

func parentOf(libpath string) string {
	i := strings.LastIndexByte(libpath, '.')
	if i < 0 {
		return libpath
	}
	return libpath[:i]
}

// ----------------------------------------------------------------------
// User operations

// AddUser adds a new user.
func (s *Store) AddUser(username, usertype, email string, orgs []string) (*gdb.User, error) {
	props := map[string]interface{}{
		"usertype":   usertype,
		"email":      email,
		"orgs":       orgs,
		"notesStorage": "browser_and_server",
		"trust":      map[string]interface{}{},
	}
	j, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user props: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT INTO users (username, props) VALUES (?, ?)`, username, string(j),
	); err != nil {
		return nil, perr.Wrap(perr.DBError, err, "failed to add user %s", username)
	}
	logging.Notes("Added user %s", username)
	return &gdb.User{Username: username, Props: props}, nil
}

// MergeUser loads a user if they exist, otherwise adds them. The email and
// owned orgs are refreshed on every merge.
func (s *Store) MergeUser(username, usertype, email string, orgs []string) (*gdb.User, bool, error) {
	user, err := s.LoadUser(username)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		u, err := s.AddUser(username, usertype, email, orgs)
		return u, true, err
	}
	user.Props["email"] = email
	user.Props["orgs"] = orgs
	if err := s.UpdateUser(user); err != nil {
		return nil, false, err
	}
	return user, false, nil
}

// UpdateUser updates the properties of an existing user.
func (s *Store) UpdateUser(user *gdb.User) error {
	j, err := json.Marshal(user.Props)
	if err != nil {
		return fmt.Errorf("failed to marshal user props: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE users SET props = ? WHERE username = ?`, string(j), user.Username,
	)
	if err != nil {
		return perr.Wrap(perr.DBError, err, "failed to update user %s", user.Username)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perr.New(perr.DBError, "no such user %s", user.Username)
	}
	return nil
}

// DeleteUser deletes a user completely, along with all their notes edges.
// The boolean flag is a programming check against accidental calls.
func (s *Store) DeleteUser(username string, definitelyWantToDeleteThisUser bool) (int, error) {
	if !definitelyWantToDeleteThisUser {
		return 0, perr.New(perr.MissingInput,
			"refusing to delete user %s without explicit intent", username)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, perr.Wrap(perr.DBError, err, "failed to begin transaction")
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE username = ?`, username); err != nil {
		tx.Rollback()
		return 0, perr.Wrap(perr.DBError, err, "failed to delete notes of %s", username)
	}
	res, err := tx.Exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		tx.Rollback()
		return 0, perr.Wrap(perr.DBError, err, "failed to delete user %s", username)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, perr.Wrap(perr.DBError, err, "failed to commit user deletion")
	}
	logging.Notes("Deleted user %s (%d node)", username, n)
	return int(n), nil
}

// RecordUserNotes records a user's notes on a goal. Recording a blank notes
// string deletes the edge.
func (s *Store) RecordUserNotes(username string, notes gdb.UserNotes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if notes.Notes == "" {
		if _, err := s.db.Exec(
			`DELETE FROM notes WHERE username = ? AND origin = ?`, username, notes.Origin,
		); err != nil {
			return perr.Wrap(perr.DBError, err, "failed to delete notes edge")
		}
		logging.NotesDebug("Deleted notes of %s on %s", username, notes.Origin)
		return nil
	}
	// The origin's major is the major of the kNode the edge attaches to.
	goalMajor := ""
	if i := strings.LastIndexByte(notes.Origin, '@'); i >= 0 {
		goalMajor = notes.Origin[i+1:]
	}
	if _, err := s.db.Exec(
		`INSERT INTO notes (username, origin, goal_libpath, goal_major, state, notes)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username, origin)
		 DO UPDATE SET goal_libpath = excluded.goal_libpath, goal_major = excluded.goal_major,
		               state = excluded.state, notes = excluded.notes,
		               updated_at = CURRENT_TIMESTAMP`,
		username, notes.Origin, notes.Goal, goalMajor, notes.State, notes.Notes,
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to record notes")
	}
	logging.NotesDebug("Recorded notes of %s on %s", username, notes.Origin)
	return nil
}

// DeleteAllNotesOfOneUser deletes all the notes recorded for a user.
func (s *Store) DeleteAllNotesOfOneUser(username string, definitelyWantToDeleteAllNotes bool) error {
	if !definitelyWantToDeleteAllNotes {
		return perr.New(perr.MissingInput,
			"refusing to purge notes of %s without explicit intent", username)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM notes WHERE username = ?`, username); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to purge notes of %s", username)
	}
	logging.Notes("Purged all notes of %s", username)
	return nil
}

// SetApproval sets a widget's display-code approval at a full version. A
// trusted libpath setting overrides these approvals.
func (s *Store) SetApproval(widgetpath, fullVersion string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var j string
	approvals := map[string]bool{}
	err := s.db.QueryRow(
		`SELECT approvals_json FROM approvals WHERE widgetpath = ? AND version = ?`,
		widgetpath, fullVersion,
	).Scan(&j)
	if err == nil {
		if err := json.Unmarshal([]byte(j), &approvals); err != nil {
			return fmt.Errorf("failed to parse approvals for %s: %w", widgetpath, err)
		}
	} else if err != sql.ErrNoRows {
		return perr.Wrap(perr.DBError, err, "failed to load approvals")
	}
	if approvals[fullVersion] == approved {
		return nil
	}
	approvals[fullVersion] = approved
	out, err := json.Marshal(approvals)
	if err != nil {
		return fmt.Errorf("failed to marshal approvals: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO approvals (widgetpath, version, approvals_json) VALUES (?, ?, ?)`,
		widgetpath, fullVersion, string(out),
	); err != nil {
		return perr.Wrap(perr.DBError, err, "failed to save approvals")
	}
	return nil
}
