package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/mr-karan/ipamd/internal/models"
	"github.com/mr-karan/ipamd/internal/store"
)

const (
	defaultAvailableLimit = 100
	maxAvailableLimit     = 65536
)

// AllocateRequest asks for an address in a subnet, or in any active subnet
// of a pool. IPAddress pins a specific address of the subnet.
type AllocateRequest struct {
	SubnetID   string `json:"subnet_id"`
	PoolID     string `json:"pool_id"`
	IPAddress  string `json:"ip_address"`
	MACAddress string `json:"mac_address"`
	Username   string `json:"username"`
}

// attributeSyncResponse is returned when an address was allocated but could
// not be bound in the reply attribute store.
type attributeSyncResponse struct {
	ErrorResponse
	Allocation *models.Allocation `json:"allocation"`
}

func statusParam(r *http.Request) (models.Status, error) {
	st := models.Status(r.URL.Query().Get("status"))
	if st != "" && !st.Valid() {
		return "", &ipam.ValidationError{Fields: map[string]string{"status": "must be active or inactive"}}
	}
	return st, nil
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	status, err := statusParam(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page, perPage, err := pagination(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	pools, err := s.ipam.ListPools(r.Context(), status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(pools, page, perPage))
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var in ipam.PoolInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := s.ipam.CreatePool(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.ipam.GetPool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	var u ipam.PoolUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	p, err := s.ipam.UpdatePool(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.ipam.DeletePool(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "pool deleted", "id": id})
}

func (s *Server) handlePoolUtilization(w http.ResponseWriter, r *http.Request) {
	u, err := s.ipam.PoolUtilization(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListSubnets(w http.ResponseWriter, r *http.Request) {
	status, err := statusParam(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page, perPage, err := pagination(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	subnets, err := s.ipam.ListSubnets(r.Context(), r.URL.Query().Get("pool_id"), status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(subnets, page, perPage))
}

func (s *Server) handleCreateSubnet(w http.ResponseWriter, r *http.Request) {
	var in ipam.SubnetInput
	if !decodeJSON(w, r, &in) {
		return
	}
	sn, err := s.ipam.CreateSubnet(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sn)
}

func (s *Server) handleGetSubnet(w http.ResponseWriter, r *http.Request) {
	sn, err := s.ipam.GetSubnet(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

func (s *Server) handleUpdateSubnet(w http.ResponseWriter, r *http.Request) {
	var u ipam.SubnetUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	sn, err := s.ipam.UpdateSubnet(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

func (s *Server) handleDeleteSubnet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.ipam.DeleteSubnet(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "subnet deleted", "id": id})
}

func (s *Server) handleSubnetUtilization(w http.ResponseWriter, r *http.Request) {
	u, err := s.ipam.SubnetUtilization(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleAvailableIPs(w http.ResponseWriter, r *http.Request) {
	limit := defaultAvailableLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAvailableLimit {
			s.writeServiceError(w, r, &ipam.ValidationError{Fields: map[string]string{"limit": "must be between 1 and 65536"}})
			return
		}
		limit = n
	}

	id := mux.Vars(r)["id"]
	seq, err := s.ipam.AvailableAddresses(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	addrs := make([]string, 0, limit)
	for addr := range seq {
		addrs = append(addrs, addr)
		if len(addrs) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subnet_id":     id,
		"available_ips": addrs,
		"count":         len(addrs),
	})
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.AllocationStatus(q.Get("status"))
	if status != "" && status != models.AllocationAllocated && status != models.AllocationReleased {
		s.writeServiceError(w, r, &ipam.ValidationError{Fields: map[string]string{"status": "must be allocated or released"}})
		return
	}
	page, perPage, err := pagination(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	allocs, err := s.ipam.ListAllocations(r.Context(), store.AllocationFilter{
		SubnetID: q.Get("subnet_id"),
		Status:   status,
		Username: q.Get("username"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(allocs, page, perPage))
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		a   *models.Allocation
		err error
	)
	switch {
	case req.SubnetID != "" && req.IPAddress != "":
		a, err = s.ipam.AllocateAddress(r.Context(), req.SubnetID, req.IPAddress, req.MACAddress, req.Username)
	case req.SubnetID != "":
		a, err = s.ipam.Allocate(r.Context(), req.SubnetID, req.MACAddress, req.Username)
	case req.PoolID != "":
		a, err = s.ipam.AllocateInPool(r.Context(), req.PoolID, req.MACAddress, req.Username)
	default:
		err = &ipam.ValidationError{Fields: map[string]string{"subnet_id": "subnet_id or pool_id is required"}}
	}

	if err != nil {
		if a != nil {
			status, code := errorStatus(err)
			writeJSON(w, status, attributeSyncResponse{
				ErrorResponse: ErrorResponse{Error: err.Error(), Code: code},
				Allocation:    a,
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := s.ipam.GetAllocation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.ipam.Release(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	a, err := s.ipam.GetAllocation(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleReleaseAddress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ipam.ReleaseByAddress(r.Context(), vars["id"], vars["address"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAllocationHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.ipam.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
