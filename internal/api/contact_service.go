package api

import (
	"context"

	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/rpc"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Directory is the contact cache the service reads.
type Directory interface {
	All() []directory.Contact
	Search(substr string) []directory.Contact
	Refresh(ctx context.Context) error
}

// ContactService implements lined.ContactService.
type ContactService struct {
	dir    Directory
	logger *zap.Logger
}

// NewContactService creates a new contact service.
func NewContactService(dir Directory, logger *zap.Logger) *ContactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactService{dir: dir, logger: logger}
}

// Service describes the handlers for registration.
func (s *ContactService) Service() *rpc.Service {
	return &rpc.Service{
		Name: ContactServiceName,
		Unary: map[string]rpc.UnaryHandler{
			"ListContacts":    s.ListContacts,
			"FindContacts":    s.FindContacts,
			"RefreshContacts": s.RefreshContacts,
		},
	}
}

func (s *ContactService) ListContacts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return contactList(s.dir.All()), nil
}

// FindContacts matches display names case-insensitively.
func (s *ContactService) FindContacts(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := rpc.String(req, "name")
	if name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name is required")
	}
	return contactList(s.dir.Search(name)), nil
}

func (s *ContactService) RefreshContacts(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.dir.Refresh(ctx); err != nil {
		s.logger.Warn("contact refresh failed", zap.Error(err))
		return nil, toStatus(err)
	}
	return contactList(s.dir.All()), nil
}

func contactList(contacts []directory.Contact) *structpb.Struct {
	views := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		views = append(views, contactView(c))
	}
	return rpc.NewStruct(map[string]any{"contacts": encodeAll(views, encodeContact)})
}
