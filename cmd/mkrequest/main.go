package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	api_v1_deploy "github.com/appforge/forge/pkg/forged/api/v1/deploy"
)

type Config struct {
	URL           string
	File          string
	Email         string
	Secret        string
	Task          string
	Round         int
	Nonce         string
	Brief         string
	Checks        []string
	EvaluationURL string
	Attach        []string
}

var cfg = DefaultConfig()

func DefaultConfig() Config {
	return Config{
		URL:   "http://localhost:8080/deploy-endpoint",
		Email: "dev@localhost",
		Task:  "demo",
		Round: 1,
		Brief: "A single demo page that says hello.",
	}
}

func init() {
	flag.ErrHelp = fmt.Errorf("\nmkrequest composes deployment request payloads and submits them to a forged server.\n")

	flag.StringVar(&cfg.URL, "url", cfg.URL, "Deployment endpoint of the forged server.")
	flag.StringVar(&cfg.File, "file", cfg.File, "Read the request from this YAML or JSON file instead of using flags.")
	flag.StringVar(&cfg.Email, "email", cfg.Email, "Developer e-mail address.")
	flag.StringVar(&cfg.Secret, "secret", cfg.Secret, "Pre-shared secret.")
	flag.StringVar(&cfg.Task, "task", cfg.Task, "Task identifier; becomes the repository name.")
	flag.IntVar(&cfg.Round, "round", cfg.Round, "Deployment round.")
	flag.StringVar(&cfg.Nonce, "nonce", cfg.Nonce, "Request nonce; generated when left empty.")
	flag.StringVar(&cfg.Brief, "brief", cfg.Brief, "What the generated site should do.")
	flag.StringArrayVar(&cfg.Checks, "check", cfg.Checks, "Acceptance check; repeat for multiple.")
	flag.StringVar(&cfg.EvaluationURL, "evaluation-url", cfg.EvaluationURL, "Callback URL notified when the deployment finishes.")
	flag.StringArrayVar(&cfg.Attach, "attach", cfg.Attach, "File to attach to the request; repeat for multiple.")
}

func mkattachment(path string) (api_v1_deploy.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api_v1_deploy.Attachment{}, fmt.Errorf("read attachment %q: %v", path, err)
	}

	mediaType, _, _ := strings.Cut(mime.TypeByExtension(filepath.Ext(path)), ";")
	mediaType = strings.TrimSpace(mediaType)
	if len(mediaType) == 0 {
		mediaType = "application/octet-stream"
	}

	return api_v1_deploy.Attachment{
		Name: filepath.Base(path),
		URL:  fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)),
	}, nil
}

func mkrequest() (*api_v1_deploy.DeploymentRequest, error) {
	req := &api_v1_deploy.DeploymentRequest{}

	if len(cfg.File) > 0 {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read request file: %v", err)
		}
		if err := yaml.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("parse request file %q: %v", cfg.File, err)
		}
	} else {
		req.Email = cfg.Email
		req.Task = cfg.Task
		req.Round = cfg.Round
		req.Brief = cfg.Brief
		req.Checks = cfg.Checks
		req.EvaluationURL = cfg.EvaluationURL
	}

	// Secret and nonce rarely belong in a request file
	if len(req.Secret) == 0 {
		req.Secret = cfg.Secret
	}
	if len(req.Nonce) == 0 {
		req.Nonce = cfg.Nonce
	}

	for _, path := range cfg.Attach {
		attachment, err := mkattachment(path)
		if err != nil {
			return nil, err
		}
		req.Attachments = append(req.Attachments, attachment)
	}

	return req, nil
}

func run() error {
	flag.Parse()

	if len(cfg.Nonce) == 0 {
		u, _ := uuid.NewRandom()
		cfg.Nonce = u.String()
	}

	req, err := mkrequest()
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(req); err != nil {
		return err
	}
	bufstr := buf.String()

	httpRequest, err := http.NewRequest("POST", cfg.URL, buf)
	if err != nil {
		return fmt.Errorf("error creating http request: %v", err)
	}

	httpRequest.Header.Add("content-type", "application/json")

	client := http.Client{}
	resp, err := client.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("error making http request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %v", err)
	}

	log.Infof("nonce......: %s", req.Nonce)
	log.Infof("status.....: %s", resp.Status)
	log.Infof("data sent..:")
	log.Info(bufstr)
	log.Infof("response...:")
	log.Info(string(body))

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Errorf("fatal: %s", err)
		os.Exit(1)
	}
}
