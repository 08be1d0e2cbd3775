package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/galdor/go-ledmesh/pkg/audio"
	"github.com/galdor/go-ledmesh/pkg/display"
	"github.com/galdor/go-ledmesh/pkg/ledmesh"
	"github.com/galdor/go-ledmesh/pkg/pattern"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
)

const defaultAPIAddress = "localhost:8081"

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	token ledmesh.Token

	transport   *ledmesh.UDPTransport
	sampler     *audio.StreamSampler
	display     ledmesh.Display
	settings    *pattern.SettingsStore
	selector    *pattern.Selector
	node        *ledmesh.Node
	linkWatcher *LinkWatcher
	apiServer   *APIServer
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddOption("", "token", "token", "",
		"the node token (hexadecimal), overriding the hardware address")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	if _, found := cfg.HTTPServers["api"]; !found {
		cfg.HTTPServers["api"] = &shttp.ServerCfg{
			Address:               defaultAPIAddress,
			LogSuccessfulRequests: true,
			ErrorHandler:          shttp.JSONErrorHandler,
		}
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	if err := s.initToken(); err != nil {
		return err
	}

	if err := s.initTransport(); err != nil {
		return err
	}

	if err := s.initAudio(); err != nil {
		return err
	}

	if err := s.initDisplay(); err != nil {
		return err
	}

	s.settings = pattern.NewSettingsStore()
	s.selector = pattern.NewSelector(s.settings, nil)

	if err := s.initNode(); err != nil {
		return err
	}

	s.initLinkWatcher()

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initToken() error {
	if s.Program.IsOptionSet("token") {
		value := s.Program.OptionValue("token")

		i, err := strconv.ParseUint(value, 16, 24)
		if err != nil {
			return fmt.Errorf("invalid token %q", value)
		}

		s.token = ledmesh.Token(i)
	} else {
		token, err := ledmesh.LocalToken(s.Cfg.Node.Interface)
		if err != nil {
			return fmt.Errorf("cannot compute node token: %w", err)
		}

		s.token = token
	}

	if s.token == 0 {
		s.Log.Info("token %v is the lowest possible token: this node will "+
			"only lead when no other node is running; use --token to "+
			"override it", s.token)
	}

	return nil
}

func (s *Service) initTransport() error {
	logger := s.Log.Child("transport", log.Data{})

	transportCfg := ledmesh.UDPTransportCfg{
		Interface: s.Cfg.Node.Interface,
		Address:   s.Cfg.Node.MulticastAddress,
		TTL:       s.Cfg.Node.MulticastTTL,
		Logger:    logger,
	}

	transport, err := ledmesh.NewUDPTransport(transportCfg)
	if err != nil {
		return fmt.Errorf("cannot create transport: %w", err)
	}

	s.transport = transport

	return nil
}

func (s *Service) initAudio() error {
	cfg := s.Cfg.Audio

	if cfg.Device == "" {
		s.Log.Info("no audio device configured, music detection disabled")
		return nil
	}

	file, err := os.Open(cfg.Device)
	if err != nil {
		return fmt.Errorf("cannot open audio device %q: %w", cfg.Device, err)
	}

	s.sampler = audio.NewStreamSampler(file, cfg.BufferLength)

	s.Log.Info("reading audio samples from %q (sample rate %d)",
		cfg.Device, cfg.SampleRate)

	return nil
}

func (s *Service) initDisplay() error {
	cfg := s.Cfg.Display

	if cfg.SerialDevice == "" {
		s.Log.Info("no serial device configured, frames will not be shown")
		s.display = display.NewRecorder(1)
		return nil
	}

	d, err := display.OpenSerialDisplay(cfg.SerialDevice, cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("cannot open display: %w", err)
	}

	s.display = d

	return nil
}

func (s *Service) initNode() error {
	logger := s.Log.Child("node", log.Data{
		"token": s.token.String(),
	})

	nodeCfg := s.Cfg.nodeCfg()

	nodeCfg.Token = s.token
	nodeCfg.Transport = s.transport
	nodeCfg.Logger = logger
	nodeCfg.Display = s.display
	nodeCfg.Renderer = s.selector

	if s.sampler != nil {
		nodeCfg.Sampler = s.sampler
	}

	node, err := ledmesh.NewNode(nodeCfg)
	if err != nil {
		return fmt.Errorf("cannot create node: %w", err)
	}

	s.node = node

	return nil
}

func (s *Service) initLinkWatcher() {
	if s.Cfg.Node.Interface == "" {
		return
	}

	logger := s.Log.Child("link", log.Data{
		"interface": s.Cfg.Node.Interface,
	})

	s.linkWatcher = NewLinkWatcher(s.Cfg.Node.Interface, logger,
		s.node.ForceResync)
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("cannot start transport: %w", err)
	}

	if s.sampler != nil {
		s.sampler.Start()
	}

	if err := s.node.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start node: %w", err)
	}

	if s.linkWatcher != nil {
		s.linkWatcher.Start()
	}

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	s.Log.Info("node %v started", s.token)

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	if s.linkWatcher != nil {
		s.linkWatcher.Stop()
	}

	s.node.Stop()

	if err := s.transport.Close(); err != nil {
		s.Log.Error("cannot close transport: %v", err)
	}

	if s.sampler != nil {
		if err := s.sampler.Close(); err != nil {
			s.Log.Error("cannot close audio device: %v", err)
		}
	}
}

func (s *Service) Terminate(ss *service.Service) {
	if d, ok := s.display.(*display.SerialDisplay); ok {
		if err := d.Close(); err != nil {
			s.Log.Error("cannot close display: %v", err)
		}
	}
}
