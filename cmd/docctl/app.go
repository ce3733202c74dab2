package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"deptdocs/core/internal/blob"
	"deptdocs/core/internal/cache"
	"deptdocs/core/internal/config"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/remote"
	"deptdocs/core/internal/session"
	"deptdocs/core/internal/syncer"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type command func(ctx context.Context, args []string) error

type app struct {
	cfg       config.Config
	log       *zap.Logger
	tokenFile string
	out       io.Writer

	api      *remote.Client
	sessions *session.RedisStore
	session  *session.Context
	sync     *syncer.Synchronizer
	minio    *blob.MinioStore
}

func newApp(cfg config.Config, log *zap.Logger, tokenFile string, paginated bool) (*app, error) {
	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:       cfg,
		log:       log,
		tokenFile: tokenFile,
		out:       os.Stdout,
		api:       remote.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, remote.WithLogger(log.Named("remote"))),
		sessions:  sessions,
		session:   session.New(),
	}

	opts := syncer.Options{
		Policy: blob.Policy{MaxBytes: cfg.MaxUploadBytes, AllowedTypes: cfg.AllowedTypes},
		Logger: log,
	}
	if paginated {
		opts.Mode = syncer.ModePaginated
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Warn("attachment storage disabled", zap.Error(err))
		} else {
			a.minio = minioStore
			opts.Blobs = minioStore
		}
	}
	a.sync = syncer.New(a.session, a.api, cache.New(cfg.CacheTTL), opts)
	return a, nil
}

func (a *app) Close() {
	a.session.Teardown()
	_ = a.sessions.Close()
}

func (a *app) commands() map[string]command {
	return map[string]command{
		"login":          a.login,
		"logout":         a.logout,
		"whoami":         a.whoami,
		"docs":           a.docs,
		"get":            a.get,
		"create":         a.create,
		"update":         a.update,
		"delete":         a.delete,
		"search":         a.search,
		"attach":         a.attach,
		"download":       a.download,
		"summary":        a.summary,
		"departments":    a.departments,
		"my-departments": a.myDepartments,
	}
}

// restore starts the session saved by a previous login.
func (a *app) restore(ctx context.Context) error {
	raw, err := os.ReadFile(a.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Unauthenticated("not logged in, run docctl login")
		}
		return fmt.Errorf("read token file: %w", err)
	}
	return a.session.Restore(ctx, a.sessions, strings.TrimSpace(string(raw)))
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) login(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	email := flags.String("email", "", "account email")
	password := flags.String("password", os.Getenv("DOCS_PASSWORD"), "account password (or DOCS_PASSWORD)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	p, err := a.api.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := a.sessions.Save(ctx, p, time.Now().Add(a.cfg.SessionTTL)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.tokenFile), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(a.tokenFile, []byte(p.Credential), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := a.session.Init(p); err != nil {
		return err
	}
	a.log.Info("logged in", zap.Int64("user_id", p.ID))
	return a.whoami(ctx, nil)
}

func (a *app) logout(ctx context.Context, _ []string) error {
	raw, err := os.ReadFile(a.tokenFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	if err := a.sessions.Revoke(ctx, strings.TrimSpace(string(raw))); err != nil {
		return err
	}
	a.session.Logout()
	if err := os.Remove(a.tokenFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func (a *app) whoami(ctx context.Context, _ []string) error {
	p, ok := a.session.Principal()
	if !ok {
		if err := a.restore(ctx); err != nil {
			return err
		}
		p, _ = a.session.Principal()
	}
	return a.print(p)
}

func (a *app) docs(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("docs", pflag.ContinueOnError)
	var opts listOptions
	opts.register(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	spec, err := opts.spec()
	if err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	page, err := a.sync.Query(ctx, spec)
	if err != nil {
		return err
	}
	return a.print(page)
}

func (a *app) get(ctx context.Context, args []string) error {
	id, err := idArg(args, 0)
	if err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	doc, ok, err := a.sync.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound(domain.EntityDocument, id)
	}
	return a.print(doc)
}

func (a *app) create(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	var opts documentOptions
	opts.register(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	in, err := opts.input(flags)
	if err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	doc, err := a.sync.CreateDocument(ctx, in)
	if err != nil {
		return err
	}
	return a.print(doc)
}

func (a *app) update(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("update", pflag.ContinueOnError)
	var opts documentOptions
	opts.register(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := idArg(flags.Args(), 0)
	if err != nil {
		return err
	}
	patch, err := opts.patch(flags)
	if err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	doc, err := a.sync.UpdateDocument(ctx, id, patch)
	if err != nil {
		return err
	}
	return a.print(doc)
}

func (a *app) delete(ctx context.Context, args []string) error {
	id, err := idArg(args, 0)
	if err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	return a.sync.DeleteDocument(ctx, id)
}

func (a *app) search(ctx context.Context, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return domain.ValidationFailed("search text is required", nil)
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	docs, err := a.sync.Search(ctx, text)
	if err != nil {
		return err
	}
	return a.print(docs)
}

func (a *app) attach(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("attach", pflag.ContinueOnError)
	mediaType := flags.String("type", "", "media type (guessed from the extension when empty)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := idArg(flags.Args(), 0)
	if err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return domain.ValidationFailed("file path is required", nil)
	}
	path := flags.Arg(1)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat attachment: %w", err)
	}
	if *mediaType == "" {
		*mediaType = guessMediaType(path)
	}

	if err := a.restore(ctx); err != nil {
		return err
	}
	if a.minio != nil {
		if err := a.minio.EnsureBucket(ctx); err != nil {
			return err
		}
	}
	doc, err := a.sync.AttachFile(ctx, id, filepath.Base(path), *mediaType, info.Size(), file)
	if err != nil {
		return err
	}
	return a.print(doc)
}

func (a *app) download(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("download", pflag.ContinueOnError)
	output := flags.StringP("output", "o", "", "write to this path instead of the attachment name")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := idArg(flags.Args(), 0)
	if err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	body, attachment, err := a.sync.DownloadAttachment(ctx, id)
	if err != nil {
		return err
	}
	defer body.Close()

	target := *output
	if target == "" {
		target = filepath.Base(attachment.Name)
	}
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, target)
	return nil
}

func (a *app) summary(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("summary", pflag.ContinueOnError)
	recent := flags.Int("recent", 5, "how many recent documents to include")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	if _, err := a.sync.LoadDocuments(ctx); err != nil {
		return err
	}
	s, err := a.sync.Summary(*recent)
	if err != nil {
		return err
	}
	return a.print(s)
}

func (a *app) departments(ctx context.Context, _ []string) error {
	if err := a.restore(ctx); err != nil {
		return err
	}
	depts, err := a.sync.Departments().List(ctx)
	if err != nil {
		return err
	}
	return a.print(depts)
}

func (a *app) myDepartments(ctx context.Context, _ []string) error {
	if err := a.restore(ctx); err != nil {
		return err
	}
	depts, err := a.sync.LoadMyDepartments(ctx)
	if err != nil {
		return err
	}
	return a.print(depts)
}

func idArg(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 0, domain.ValidationFailed("document id is required", nil)
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationFailed(fmt.Sprintf("invalid document id %q", args[i]), nil)
	}
	return id, nil
}

func guessMediaType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if base, _, err := mime.ParseMediaType(t); err == nil {
			return base
		}
		return t
	}
	return "application/octet-stream"
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".docctl-token"
	}
	return filepath.Join(dir, "docctl", "token")
}

