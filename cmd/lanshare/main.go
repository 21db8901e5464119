package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"github.com/t7a/lanshare/config"
	"github.com/t7a/lanshare/discover"
	"github.com/t7a/lanshare/fuse"
	"github.com/t7a/lanshare/server"
	"github.com/t7a/lanshare/share"
	"github.com/t7a/lanshare/watch"
)

const usage = `lanshare

Share files with everyone on the local network.

Usage:
  lanshare serve [-c <config>] [--root <dir>] [--port <port>] [--keep]
  lanshare put <file>...
  lanshare putdir <dir>
  lanshare ls [-l]
  lanshare mkdir <name>
  lanshare get <path> [-o <filename>]
  lanshare zip [-o <filename>]
  lanshare rm <path>
  lanshare info
  lanshare purge
  lanshare mount [--root <dir>] <mountpoint>

Options:
  -h --help       Show this screen.
  --version       Show version.
  -c <config>     YAML configuration file.
  --root <dir>    Share directory.  Defaults to $SHAREDIR, then ./shared_files.
  --port <port>   Listen port.
  --keep          Keep what's in the share instead of purging it on startup.
  -l              Show sizes and the total.
  -o <filename>   Write to filename.

Commands other than serve and mount work on $SHAREDIR or ./shared_files
directly, with no server running.
`

type Opts struct {
	Serve      bool     `docopt:"serve"`
	Put        bool     `docopt:"put"`
	Putdir     bool     `docopt:"putdir"`
	Ls         bool     `docopt:"ls"`
	Mkdir      bool     `docopt:"mkdir"`
	Get        bool     `docopt:"get"`
	Zip        bool     `docopt:"zip"`
	Rm         bool     `docopt:"rm"`
	Info       bool     `docopt:"info"`
	Purge      bool     `docopt:"purge"`
	Mount      bool     `docopt:"mount"`
	Config     string   `docopt:"-c"`
	Root       string   `docopt:"--root"`
	Port       string   `docopt:"--port"`
	Keep       bool     `docopt:"--keep"`
	Long       bool     `docopt:"-l"`
	Out        string   `docopt:"-o"`
	Files      []string `docopt:"<file>"`
	Dir        string   `docopt:"<dir>"`
	Name       string   `docopt:"<name>"`
	Path       string   `docopt:"<path>"`
	Mountpoint string   `docopt:"<mountpoint>"`
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() (rc int) {
	parser := &docopt.Parser{HelpHandler: docopt.PrintHelpOnly, OptionsFirst: false}
	o, err := parser.ParseArgs(usage, os.Args[1:], "0.1")
	if err != nil {
		return 22
	}
	var opts Opts
	err = o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	if opts.Serve {
		err = serve(opts)
		if err != nil {
			log.Error(err)
			return 42
		}
		return 0
	}
	if opts.Mount {
		err = mount(shareRoot(opts), opts.Mountpoint)
		if err != nil {
			log.Error(err)
			return 42
		}
		return 0
	}

	svc, err := share.Open(share.Options{Root: shareRoot(opts)})
	if err != nil {
		log.Error(err)
		return 42
	}
	defer svc.Close()

	switch true {
	case opts.Put:
		var batch []share.UploadItem
		for _, fn := range opts.Files {
			batch = append(batch, localItem(fn, ""))
		}
		return store(svc, batch)
	case opts.Putdir:
		batch, err := dirItems(opts.Dir)
		if err != nil {
			log.Error(err)
			return 5
		}
		return store(svc, batch)
	case opts.Ls:
		listing, err := svc.List()
		if err != nil {
			log.Error(err)
			return 42
		}
		for _, e := range listing.Entries {
			if !opts.Long {
				fmt.Println(e.Path)
				continue
			}
			size := e.SizeFormatted
			if e.IsDir {
				size = ""
			}
			fmt.Printf("%10s  %s\n", size, e.Path)
		}
		if opts.Long {
			fmt.Printf("total %s\n", listing.TotalSizeFormatted)
		}
	case opts.Mkdir:
		path, err := svc.Mkdir(opts.Name)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Printf("created %s/\n", path)
	case opts.Get:
		err = get(svc, opts.Path, opts.Out)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Zip:
		fn, n, err := writeZip(svc, opts.Out)
		if err != nil {
			log.Error(err)
			return 42
		}
		log.Debugf("%s: %d bytes", fn, n)
		fmt.Printf("wrote %s\n", fn)
	case opts.Rm:
		err = svc.Delete(opts.Path)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Printf("removed %s\n", opts.Path)
	case opts.Info:
		info, err := svc.StorageInfo()
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Printf("files: %d\n", info.FileCount)
		fmt.Printf("uploaded: %s\n", info.UploadedFormatted)
		fmt.Printf("disk: %s used, %s free of %s\n", info.UsedDiskFormatted, info.FreeDiskFormatted, info.TotalDiskFormatted)
		fmt.Printf("raw: %s free (%s)\n", humanize.IBytes(info.FreeDiskBytes), humanize.Comma(int64(info.FreeDiskBytes)))
	case opts.Purge:
		err = svc.Purge()
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println("purged")
	}
	return 0
}

// shareRoot picks the share directory: --root, then $SHAREDIR, then
// ./shared_files.
func shareRoot(opts Opts) string {
	if opts.Root != "" {
		return opts.Root
	}
	if dir := os.Getenv("SHAREDIR"); dir != "" {
		return dir
	}
	return config.DefaultRoot
}

func localItem(fn, relpath string) share.UploadItem {
	return share.UploadItem{
		Name:    filepath.Base(fn),
		RelPath: relpath,
		Open: func() (io.ReadCloser, error) {
			return os.Open(fn)
		},
	}
}

// dirItems lists every regular file under dir as a folder upload,
// with paths that start with dir's own name the way a browser's
// webkitRelativePath does.
func dirItems(dir string) (batch []share.UploadItem, err error) {
	top := filepath.Base(filepath.Clean(dir))
	err = filepath.WalkDir(dir, func(fn string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, fn)
		if err != nil {
			return err
		}
		batch = append(batch, localItem(fn, top+"/"+filepath.ToSlash(rel)))
		return nil
	})
	return
}

// store ingests batch and reports each stored file, sorted by path.
// Rejected items are logged and make the exit code nonzero.
func store(svc *share.Service, batch []share.UploadItem) (rc int) {
	res, err := svc.Ingest(context.Background(), batch)
	if res != nil {
		for _, rj := range res.Rejected {
			log.Errorf("%s: %v", rj.Name, rj.Err)
		}
	}
	if err != nil {
		log.Error(err)
		return 42
	}
	sort.Slice(res.Accepted, func(i, j int) bool {
		return res.Accepted[i].Path < res.Accepted[j].Path
	})
	for _, sf := range res.Accepted {
		fmt.Printf("stored %s (%s)\n", sf.Path, share.FormatSize(sf.Size))
	}
	if len(res.Rejected) > 0 {
		return 43
	}
	return 0
}

func get(svc *share.Service, raw, out string) (err error) {
	file, _, _, err := svc.OpenFile(raw)
	if err != nil {
		return
	}
	defer file.Close()
	if out == "" {
		_, err = io.Copy(os.Stdout, file)
		return
	}
	dst, err := os.Create(out)
	if err != nil {
		return
	}
	n, err := io.Copy(dst, file)
	if err != nil {
		dst.Close()
		return
	}
	err = dst.Close()
	if err != nil {
		return
	}
	fmt.Printf("wrote %s (%s)\n", out, share.FormatSize(n))
	return
}

// writeZip archives the share into out, or into a file in the current
// directory named the way a browser download would be.
func writeZip(svc *share.Service, out string) (fn string, n int64, err error) {
	defer Return(&err)
	fn = out
	if fn == "" {
		fn, err = svc.ArchiveName()
		if err != nil {
			return
		}
	}
	sa, err := svc.StageArchive(context.Background())
	if err != nil {
		return
	}
	defer sa.Close()
	dst, err := os.Create(fn)
	Ck(err)
	defer dst.Close()
	n, err = io.Copy(dst, sa)
	Ck(err)
	return
}

func serve(opts Opts) (err error) {
	defer Return(&err)

	cfg := config.Default()
	if opts.Config != "" {
		cfg, err = config.LoadConfig(opts.Config)
		Ck(err)
	}
	cfg.ApplyEnv()
	if opts.Root != "" {
		cfg.Storage.Root = opts.Root
	}
	if opts.Port != "" {
		cfg.Server.Port, err = strconv.Atoi(opts.Port)
		Ck(err)
	}
	if opts.Keep {
		cfg.Storage.PurgeOnStart = false
	}
	err = cfg.Validate()
	Ck(err)
	setLevel(cfg.Logging.Level)

	svc, err := share.Open(share.Options{
		Root:      cfg.Storage.Root,
		Workers:   cfg.Storage.Workers,
		Artifacts: []string{cfg.Discovery.QRCache},
	})
	Ck(err)
	defer svc.Close()

	if cfg.Storage.PurgeOnStart {
		_, err = svc.PurgeOnStart()
		if err != nil {
			log.Warnf("startup cleanup: %v", err)
		}
	}

	url := discover.URL(discover.LocalIP(), cfg.Server.Port)
	srv := server.New(svc, server.Options{
		ArchiveMode: cfg.Archive.Mode,
		MaxMemory:   cfg.MaxMemory(),
		QR:          discover.NewCache(cfg.Discovery.QRCache, url),
	})
	defer srv.Close()

	// stop on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Watch.Enabled {
		w, err := watch.New(svc.Root())
		Ck(err)
		defer w.Close()
		w.Register(srv.Changed)
		go w.Run(ctx)
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	Ck(err)
	httpd := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	fmt.Printf("Sharing %s at %s\n", svc.Root(), url)
	if cfg.Discovery.QR {
		discover.PrintQR(os.Stdout, url)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpd.Serve(listener)
	}()
	select {
	case err = <-errc:
		Ck(err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = httpd.Shutdown(shutdown)
	Ck(err)
	return
}

func mount(root, mnt string) (err error) {
	defer Return(&err)

	svc, err := share.Open(share.Options{Root: root})
	Ck(err)
	defer svc.Close()

	fsrv, err := fuse.Mount(svc, mnt, os.Getenv("DEBUG") == "1")
	Ck(err)

	// unmount on SIGINT or SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fsrv.Unmount()
	}()
	fsrv.Wait()
	return
}
