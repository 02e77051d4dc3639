package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/internal/sortby"
	"github.com/dekarrin/rowsync/model"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// GET /recipients
func (a *API) epList(req *http.Request) Result {
	var all []*model.Recipient
	err := a.db.WithReadTransaction(req.Context(), func(ctx context.Context, tx *db.ReadTransaction) error {
		for r, err := range a.recipients.Enumerate(ctx, tx, a.batchSize) {
			if err != nil {
				return err
			}
			all = append(all, r)
		}
		return nil
	})
	if err != nil {
		return internalServerError("could not list recipients: %s", err.Error())
	}

	all = sortby.Key(all, (*model.Recipient).UniqueID)

	resp := make([]RecipientModel, len(all))
	for i := range all {
		resp[i] = recipientModel(all[i])
	}
	return ok(resp, "got %d recipients", len(resp))
}

// GET /recipients/count
func (a *API) epCount(req *http.Request) Result {
	var count int64
	err := a.db.WithReadTransaction(req.Context(), func(ctx context.Context, tx *db.ReadTransaction) error {
		var err error
		count, err = a.recipients.Count(ctx, tx)
		return err
	})
	if err != nil {
		return internalServerError("could not count recipients: %s", err.Error())
	}
	return ok(CountResponse{Count: count}, "counted %d recipients", count)
}

// GET /recipients/{id}
func (a *API) epGet(req *http.Request) Result {
	id := chi.URLParam(req, "id")

	// the fetched instance may be the cached one, so it is only read while the
	// transaction holds the database
	var resp RecipientModel
	var found bool
	err := a.db.WithReadTransaction(req.Context(), func(ctx context.Context, tx *db.ReadTransaction) error {
		r, ok, err := a.recipients.Fetch(ctx, tx, id)
		if err != nil || !ok {
			return err
		}
		found = true
		resp = recipientModel(r)
		return nil
	})
	if err != nil {
		return internalServerError("could not fetch recipient %q: %s", id, err.Error())
	}
	if !found {
		return notFound("recipient %q does not exist", id)
	}
	return ok(resp, "got recipient %q", id)
}

// POST /recipients
func (a *API) epCreate(req *http.Request) Result {
	var body CreateRecipientRequest
	if err := parseJSONRequest(req, &body); err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	var serviceID uuid.UUID
	if body.ServiceID != "" {
		var err error
		serviceID, err = uuid.Parse(body.ServiceID)
		if err != nil {
			return badRequest("service_id: not a valid UUID", "service_id %q: %s", body.ServiceID, err.Error())
		}
	}
	if body.PhoneNumber == "" && serviceID == uuid.Nil {
		return badRequest("phone_number or service_id is required", "recipient has no address")
	}

	var r *model.Recipient
	if body.ID != "" {
		r = model.NewRecipientWithID(body.ID, body.PhoneNumber, serviceID, body.Devices...)
	} else {
		r = model.NewRecipient(body.PhoneNumber, serviceID, body.Devices...)
	}

	err := a.db.WithWriteTransaction(req.Context(), func(ctx context.Context, tx *db.WriteTransaction) error {
		return a.recipients.Insert(ctx, tx, r)
	})
	if err != nil {
		if errors.Is(err, rowsync.ErrDuplicateUniqueID) {
			return conflict("a recipient with that ID already exists", "recipient %q already exists", r.UniqueID())
		}
		return internalServerError("could not create recipient: %s", err.Error())
	}

	return created(recipientModel(r), "%s created recipient %q", subject(req), r.UniqueID())
}

// DELETE /recipients/{id}
func (a *API) epDelete(req *http.Request) Result {
	id := chi.URLParam(req, "id")

	err := a.db.WithWriteTransaction(req.Context(), func(ctx context.Context, tx *db.WriteTransaction) error {
		return a.recipients.Remove(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, rowsync.ErrNotFound) {
			return notFound("recipient %q does not exist", id)
		}
		return internalServerError("could not delete recipient %q: %s", id, err.Error())
	}

	return noContent("%s deleted recipient %q", subject(req), id)
}

// POST /recipients/{id}/devices
func (a *API) epAddDevices(req *http.Request) Result {
	id := chi.URLParam(req, "id")

	var body DevicesRequest
	if err := parseJSONRequest(req, &body); err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}
	if len(body.Devices) == 0 {
		return badRequest("devices: must not be empty", "no devices given")
	}

	return a.updateRecipient(req, id, func(r *model.Recipient) {
		r.AddDevices(body.Devices...)
	})
}

// DELETE /recipients/{id}/devices/{device}
func (a *API) epRemoveDevice(req *http.Request) Result {
	id := chi.URLParam(req, "id")

	device, err := getURLParam(req, "device", func(s string) (uint32, error) {
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), err
	})
	if err != nil {
		return badRequest("device: not a valid device ID", "%s", err.Error())
	}

	return a.updateRecipient(req, id, func(r *model.Recipient) {
		r.RemoveDevices(device)
	})
}

// updateRecipient applies mutate to the stored recipient with the given ID and
// responds with the result.
func (a *API) updateRecipient(req *http.Request, id string, mutate func(r *model.Recipient)) Result {
	var resp RecipientModel
	var found bool
	err := a.db.WithWriteTransaction(req.Context(), func(ctx context.Context, tx *db.WriteTransaction) error {
		r, ok, err := a.recipients.Fetch(ctx, tx, id)
		if err != nil || !ok {
			return err
		}
		found = true
		if err := a.recipients.UpdateWith(ctx, tx, r, mutate); err != nil {
			return err
		}
		resp = recipientModel(r)
		return nil
	})
	if err != nil {
		return internalServerError("could not update recipient %q: %s", id, err.Error())
	}
	if !found {
		return notFound("recipient %q does not exist", id)
	}

	return ok(resp, "%s updated recipient %q", subject(req), id)
}

// parseJSONRequest decodes the JSON body of req into v, which must be a
// pointer.
func parseJSONRequest(req *http.Request, v interface{}) error {
	contentType, _, _ := strings.Cut(req.Header.Get("Content-Type"), ";")

	if strings.ToLower(strings.TrimSpace(contentType)) != "application/json" {
		return fmt.Errorf("request content-type is not application/json")
	}

	bodyData, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("could not read request body: %w", err)
	}
	defer func() {
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewBuffer(bodyData))
	}()

	if err := json.Unmarshal(bodyData, v); err != nil {
		return fmt.Errorf("malformed JSON in request: %w", err)
	}

	return nil
}

func getURLParam[E any](r *http.Request, key string, parse func(string) (E, error)) (val E, err error) {
	valStr := chi.URLParam(r, key)
	if valStr == "" {
		return val, fmt.Errorf("parameter %q is missing", key)
	}

	val, err = parse(valStr)
	if err != nil {
		return val, fmt.Errorf("parameter %q: %w", key, err)
	}
	return val, nil
}
