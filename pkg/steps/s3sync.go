package steps

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/stat"
	"github.com/systemstart/backupflow/pkg/storage"
)

var bucketNamePattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{1,255}$`)

const layerRule = "rule"

const (
	metricUploadedObjects  = "Uploaded Objects"
	metricUploadedSize     = "Uploaded Size"
	metricTransmissionTime = "Transmission Time"
	metricTransmissionRate = "Transmission Speed"
	metricCopiedObjects    = "Copied Objects Count"
	metricDeletedObjects   = "Deleted Objects Count"
)

type sourceFile struct {
	SourceFile  string `mapstructure:"source_file"`
	AddDedupTag bool   `mapstructure:"add_dedup_tag"`
}

type uploadRule struct {
	Name              string `mapstructure:"name"`
	DestinationPrefix string `mapstructure:"destination_prefix"`
	DedupTagName      string `mapstructure:"dedup_tag_name"`
	DedupTagValue     string `mapstructure:"dedup_tag_value"`
}

// uploadTarget is a source file resolved to a local path.
type uploadTarget struct {
	path        string
	addDedupTag bool
}

// syncStep uploads local files to a bucket. The rotation flavor keeps one
// tagged copy per rule and deletes what earlier runs left behind; the strict
// flavor uploads to fresh keys only and never overwrites.
type syncStep struct {
	base
	strict bool
	stores storage.Factory
	suffix string
}

func newRotationUploadStep(p Params) (Step, error) {
	return &syncStep{base: newBase(p), stores: p.stores}, nil
}

func newStrictUploadStep(p Params) (Step, error) {
	return &syncStep{
		base:   newBase(p),
		strict: true,
		stores: p.stores,
		suffix: normalizeSuffix(p.UploadSuffix),
	}, nil
}

func normalizeSuffix(suffix string) string {
	suffix = strings.TrimSpace(suffix)
	if suffix != "" && !strings.HasPrefix(suffix, "-") {
		suffix = "-" + suffix
	}
	return suffix
}

// syncSession is the state of one Run or VoteForSkip call. The first-uploads
// cache lives here so it never outlives the call.
type syncSession struct {
	store        storage.ObjectStore
	targetPrefix string
	firstUploads map[string]string
}

func (s *syncStep) open(ctx context.Context) (*syncSession, error) {
	if s.strict {
		s.values["execution_suffix"] = s.suffix
	}

	bucket, err := s.secret("bucket_name")
	if err != nil {
		return nil, err
	}
	if !bucketNamePattern.MatchString(bucket) {
		return nil, fmt.Errorf("%w: bucket name %q should match %s", api.ErrDryRunValidation, bucket, bucketNamePattern)
	}

	cfg := storage.Config{Bucket: bucket}
	if cfg.Region, err = s.secret("region"); err != nil {
		return nil, err
	}
	if cfg.AccessKeyID, err = s.secret("aws_access_key_id"); err != nil {
		return nil, err
	}
	if cfg.SecretAccessKey, err = s.secret("aws_secret_access_key"); err != nil {
		return nil, err
	}
	if cfg.EndpointURL, _, err = s.optionalParam("endpoint_url"); err != nil {
		return nil, err
	}
	if cfg.ChunkSizeMB, err = s.intValue("multipart_chunk_size_mb", storage.DefaultChunkSizeMB); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrency, err = s.intValue("max_concurrency", storage.DefaultMaxConcurrency); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = s.intValue("max_attempts", storage.DefaultMaxAttempts); err != nil {
		return nil, err
	}

	prefix, err := s.param("prefix_in_bucket")
	if err != nil {
		return nil, err
	}
	targetPrefix, err := s.param("target_prefix_in_bucket")
	if err != nil {
		return nil, err
	}
	slog.Debug("sync prefixes", "step", s.name, "bucket", bucket, "prefix", prefix, "targetPrefix", targetPrefix)

	store, err := s.stores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", bucket, err)
	}

	return &syncSession{
		store:        store,
		targetPrefix: targetPrefix,
		firstUploads: make(map[string]string),
	}, nil
}

func (s *syncStep) additional(sess *syncSession) map[string]any {
	return map[string]any{"target_prefix_in_bucket": sess.targetPrefix}
}

func (s *syncStep) Run(ctx context.Context, entry *stat.Entry, dryRun bool) (map[string]any, error) {
	sess, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	var (
		sources []sourceFile
		rules   []uploadRule
	)
	if s.strict {
		if err := s.decode("uploads", &sources); err != nil {
			return nil, err
		}
	} else {
		if err := s.decode("source_files", &sources); err != nil {
			return nil, err
		}
		if err := s.decodeRules(&rules); err != nil {
			return nil, err
		}
	}

	exists, err := sess.store.BucketExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrDryRunValidation, err)
	}

	if dryRun {
		slog.Debug("bucket checked", "step", s.name, "exists", exists)
		for _, rule := range rules {
			if _, _, _, err := s.renderRule(sess, rule); err != nil {
				return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
			}
		}
		return s.outputs(s.additional(sess))
	}

	targets, err := s.resolveTargets(sess, sources)
	if err != nil {
		return nil, err
	}

	if !exists {
		slog.Info("creating bucket", "step", s.name)
		if err := sess.store.CreateBucket(ctx); err != nil {
			return nil, err
		}
	}

	if s.strict {
		for _, target := range targets {
			if err := s.uploadStrict(ctx, sess, entry, target); err != nil {
				return nil, err
			}
		}
	} else {
		for _, rule := range rules {
			if err := s.syncRule(ctx, sess, entry, rule, targets); err != nil {
				return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
			}
		}
	}

	finishTransferMetrics(entry)
	return s.outputs(s.additional(sess))
}

// VoteForSkip votes to skip only when the bucket exists and every rule has
// already been completed for the current iteration. The strict flavor abstains.
func (s *syncStep) VoteForSkip(ctx context.Context) (SkipVote, error) {
	if s.strict {
		return Abstain, nil
	}

	sess, err := s.open(ctx)
	if err != nil {
		return Abstain, err
	}

	exists, err := sess.store.BucketExists(ctx)
	if err != nil {
		return Abstain, err
	}
	if !exists {
		slog.Debug("step can't be skipped, bucket does not exist", "step", s.name)
		return VoteRun, nil
	}

	var rules []uploadRule
	if err := s.decodeRules(&rules); err != nil {
		return Abstain, err
	}

	for _, rule := range rules {
		prefix, tagName, tagValue, err := s.renderRule(sess, rule)
		if err != nil {
			return Abstain, err
		}
		tagged, err := findTagged(ctx, sess.store, prefix, tagName, tagValue)
		if err != nil {
			return Abstain, err
		}
		if tagged == "" {
			slog.Debug("rule requires an upload", "step", s.name, "rule", rule.Name)
			return VoteRun, nil
		}
	}
	return VoteSkip, nil
}

func (s *syncStep) decodeRules(rules *[]uploadRule) error {
	if err := s.decode("upload_rules", rules); err != nil {
		return err
	}
	for i, rule := range *rules {
		if rule.Name == "" || rule.DestinationPrefix == "" || rule.DedupTagName == "" {
			return fmt.Errorf("%w: step %q: upload rule %d needs name, destination_prefix and dedup_tag_name",
				api.ErrConfigurationValidation, s.name, i)
		}
	}
	return nil
}

// renderRule resolves a rule's templates. The rule's own name is visible to
// them as rule_name.
func (s *syncStep) renderRule(sess *syncSession, rule uploadRule) (prefix, tagName, tagValue string, err error) {
	layers := s.layers(s.additional(sess)).With(layerRule, map[string]any{"rule_name": rule.Name})
	if prefix, err = s.renderLayers("destination_prefix", rule.DestinationPrefix, layers); err != nil {
		return "", "", "", err
	}
	if tagName, err = s.renderLayers("dedup_tag_name", rule.DedupTagName, layers); err != nil {
		return "", "", "", err
	}
	if tagValue, err = s.renderLayers("dedup_tag_value", rule.DedupTagValue, layers); err != nil {
		return "", "", "", err
	}
	return prefix, tagName, tagValue, nil
}

// resolveTargets expands the sources into local files. Keys are built from
// base names, so two different files sharing one are rejected before anything
// is written.
func (s *syncStep) resolveTargets(sess *syncSession, sources []sourceFile) ([]uploadTarget, error) {
	var targets []uploadTarget
	byName := make(map[string]int)
	for _, source := range sources {
		pattern, err := s.render("source_file", source.SourceFile, s.additional(sess))
		if err != nil {
			return nil, err
		}
		paths, err := resolveSource(pattern)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			name := filepath.Base(p)
			if i, ok := byName[name]; ok {
				if targets[i].path != p {
					return nil, fmt.Errorf("%w: step %q: %q and %q would both be uploaded as %q",
						api.ErrConfigurationValidation, s.name, targets[i].path, p, name)
				}
				targets[i].addDedupTag = targets[i].addDedupTag || source.AddDedupTag
				continue
			}
			byName[name] = len(targets)
			targets = append(targets, uploadTarget{path: p, addDedupTag: source.AddDedupTag})
		}
	}
	slog.Info("files to upload", "step", s.name, "count", len(targets))
	return targets, nil
}

// syncRule makes the rule's prefix hold exactly the current targets, each
// transferred at most once per session, and tags them for the next dedup check.
func (s *syncStep) syncRule(ctx context.Context, sess *syncSession, entry *stat.Entry, rule uploadRule, targets []uploadTarget) error {
	prefix, tagName, tagValue, err := s.renderRule(sess, rule)
	if err != nil {
		return err
	}

	tagged, err := findTagged(ctx, sess.store, prefix, tagName, tagValue)
	if err != nil {
		return err
	}
	if tagged != "" {
		slog.Info("iteration already uploaded, skipping rule", "step", s.name, "rule", rule.Name, "key", tagged)
		return nil
	}

	existing, err := sess.store.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	stale := make(map[string]bool, len(existing))
	for _, key := range existing {
		stale[key] = true
	}

	for _, target := range targets {
		key := path.Join(prefix, filepath.Base(target.path))

		first, uploaded := sess.firstUploads[target.path]
		switch {
		case !uploaded:
			if err := s.upload(ctx, sess, entry, target.path, key); err != nil {
				return err
			}
			sess.firstUploads[target.path] = key
		case first != key:
			slog.Info("copying previous upload", "step", s.name, "from", first, "to", key)
			if err := sess.store.CopyObject(ctx, first, key); err != nil {
				return err
			}
			if err := entry.Metrics.Get(metricCopiedObjects, 0, "items").Increment(1); err != nil {
				return err
			}
		}

		delete(stale, key)

		if target.addDedupTag {
			if err := sess.store.SetObjectTags(ctx, key, map[string]string{tagName: tagValue}); err != nil {
				return err
			}
		}
	}

	for _, key := range slices.Sorted(maps.Keys(stale)) {
		slog.Info("removing rotated object", "step", s.name, "key", key)
		if err := sess.store.DeleteObject(ctx, key); err != nil {
			return err
		}
		if err := entry.Metrics.Get(metricDeletedObjects, 0, "items").Increment(1); err != nil {
			return err
		}
	}
	return nil
}

func (s *syncStep) uploadStrict(ctx context.Context, sess *syncSession, entry *stat.Entry, target uploadTarget) error {
	key := path.Join(sess.targetPrefix, filepath.Base(target.path))

	exists, err := sess.store.ObjectExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: object %q already exists", api.ErrTransmission, key)
	}
	return s.upload(ctx, sess, entry, target.path, key)
}

func (s *syncStep) upload(ctx context.Context, sess *syncSession, entry *stat.Entry, localPath, key string) error {
	slog.Info("uploading", "step", s.name, "file", localPath, "key", key)

	started := time.Now()
	size, err := sess.store.UploadFile(ctx, localPath, key)
	if err != nil {
		return fmt.Errorf("%w: %w", api.ErrTransmission, err)
	}
	spent := time.Since(started).Seconds()

	if err := entry.Metrics.Get(metricUploadedObjects, 0, "items").Increment(1); err != nil {
		return err
	}
	if err := entry.Metrics.Get(metricUploadedSize, 0.0, "MiB").Increment(float64(size) / mebibyte); err != nil {
		return err
	}
	return entry.Metrics.Get(metricTransmissionTime, 0.0, "seconds").Increment(spent)
}

func findTagged(ctx context.Context, store storage.ObjectStore, prefix, tagName, tagValue string) (string, error) {
	keys, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		tags, err := store.GetObjectTags(ctx, key)
		if err != nil {
			return "", err
		}
		if value, ok := tags[tagName]; ok && value == tagValue {
			return key, nil
		}
	}
	return "", nil
}

func finishTransferMetrics(entry *stat.Entry) {
	size, hasSize := entry.Metrics.Lookup(metricUploadedSize)
	elapsed, hasTime := entry.Metrics.Lookup(metricTransmissionTime)
	if !hasSize || !hasTime {
		return
	}

	sizeMiB, _ := size.Value.(float64)
	seconds, _ := elapsed.Value.(float64)
	if seconds > 0 {
		entry.Metrics.Set(metricTransmissionRate, round(sizeMiB/seconds, 2), "MiB/s")
	} else {
		entry.Metrics.Set(metricTransmissionRate, "N/A", "MiB/s")
	}
	size.Value = round(sizeMiB, 2)
	elapsed.Value = round(seconds, 3)
}
